package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/camden-git/facewatch/enrollment"
	"github.com/camden-git/facewatch/recognition"
	"github.com/camden-git/facewatch/services"
)

var enrollOpts struct {
	dir string
	id  string
}

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Embed directory photos into the enrollment cache",
	Long: `Fetches every record from the personnel directory (DIRECTORY_URL) or a local
folder of photos (--dir), embeds the largest face of each photo and stores the
result in the enrollment cache the server restores on boot. Photos whose
content did not change since the last run are skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEnroll(cmd.Context())
	},
}

func init() {
	enrollCmd.Flags().StringVar(&enrollOpts.dir, "dir", "", "enroll from a folder of photos named after each person")
	enrollCmd.Flags().StringVar(&enrollOpts.id, "id", "", "enroll a single directory record")
	rootCmd.AddCommand(enrollCmd)
}

func enrollmentDirectory() (enrollment.Directory, error) {
	switch {
	case enrollOpts.dir != "":
		info, err := os.Stat(enrollOpts.dir)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%s is not a directory", enrollOpts.dir)
		}
		return &enrollment.FolderDirectory{Root: enrollOpts.dir}, nil
	case cfg.DirectoryURL != "":
		return enrollment.NewHTTPDirectory(cfg.DirectoryURL, cfg.DirectoryTimeout), nil
	default:
		return nil, errors.New("no directory: set DIRECTORY_URL or pass --dir")
	}
}

func runEnroll(ctx context.Context) error {
	dir, err := enrollmentDirectory()
	if err != nil {
		return err
	}

	storage, err := services.OpenStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer storage.Close()

	loaded, err := services.LoadModels(cfg)
	if err != nil {
		return err
	}
	defer loaded.Close()

	store := recognition.NewEmbeddingStore(loaded.Embedder.Similarity, recognition.StoreOptions{})
	loader := enrollment.NewLoader(dir, store, storage.Identities, loaded.Detector, loaded.Embedder)
	loader.ModelName = loaded.Embedder.ModelName

	if enrollOpts.id != "" {
		outcome, err := loader.LoadOne(ctx, enrollOpts.id)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", enrollOpts.id, outcome)
		return nil
	}

	var bar *progressbar.ProgressBar
	loader.OnProgress = func(done, total int, p enrollment.Person, outcome enrollment.Outcome, err error) {
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription("Enrolling"),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
		}
		bar.Add(1)
	}

	sum, err := loader.LoadAll(ctx)
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return err
	}
	log.Printf("enroll: %d records, %d enrolled, %d unchanged, %d failed", sum.Total, sum.Enrolled, sum.Unchanged, sum.Failed)
	fmt.Printf("Enrolled %d, unchanged %d, failed %d of %d records.\n", sum.Enrolled, sum.Unchanged, sum.Failed, sum.Total)
	return nil
}
