package cmd

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/camden-git/facewatch/handlers"
	"github.com/camden-git/facewatch/services"
)

var logsOpts struct {
	label  string
	camera string
	since  string
	until  string
	limit  int
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Print recognition log records, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLogs(cmd.Context())
	},
}

func init() {
	logsCmd.Flags().StringVar(&logsOpts.label, "label", "", "only records with this label")
	logsCmd.Flags().StringVar(&logsOpts.camera, "camera", "", "only records from this camera")
	logsCmd.Flags().StringVar(&logsOpts.since, "since", "", "Unix seconds or RFC 3339, inclusive")
	logsCmd.Flags().StringVar(&logsOpts.until, "until", "", "Unix seconds or RFC 3339, exclusive")
	logsCmd.Flags().IntVar(&logsOpts.limit, "limit", 20, "maximum records to print")
	rootCmd.AddCommand(logsCmd)
}

func runLogs(ctx context.Context) error {
	v := url.Values{}
	v.Set("label", logsOpts.label)
	v.Set("camera", logsOpts.camera)
	v.Set("since", logsOpts.since)
	v.Set("until", logsOpts.until)
	v.Set("limit", strconv.Itoa(logsOpts.limit))
	q, err := handlers.ParseLogQuery(v)
	if err != nil {
		return err
	}

	storage, err := services.OpenStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer storage.Close()

	records, err := storage.Logs.Query(ctx, q)
	if err != nil {
		return fmt.Errorf("query logs: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("No recognition logs found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "TIME\tCAMERA\tLABEL\tSIMILARITY\tSAMPLES\tEMOTION\tGENDER\tAGE")
	fmt.Fprintln(w, "----\t------\t-----\t----------\t-------\t-------\t------\t---")
	for _, rec := range records {
		age := "-"
		if rec.Age >= 0 {
			age = strconv.Itoa(rec.Age)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%d\t%s\t%s\t%s\n",
			time.Unix(rec.Timestamp, 0).Local().Format("2006-01-02 15:04:05"),
			rec.CameraName, rec.Label, rec.Similarity, rec.SampleCount, rec.Emotion, rec.Gender, age)
	}
	return w.Flush()
}
