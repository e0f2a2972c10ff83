package enrollment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/camden-git/facewatch/utils"
)

var ErrPersonNotFound = errors.New("person not found in directory")

// maxPhotoBytes caps a single reference photo download
const maxPhotoBytes = 20 << 20

// Person is one directory record
type Person struct {
	ID       string
	Name     string
	Lastname string
}

// Label is the display label used for recognition results
func (p Person) Label() string {
	return strings.TrimSpace(strings.TrimSpace(p.Name) + " " + strings.TrimSpace(p.Lastname))
}

// Directory is the read side of the personnel directory
type Directory interface {
	List(ctx context.Context) ([]Person, error)
	Photo(ctx context.Context, id string) ([]byte, error)
}

// flexibleID accepts both numeric and string ids
type flexibleID string

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*f = flexibleID(n.String())
	return nil
}

type personRecord struct {
	ID       flexibleID `json:"id"`
	Name     string     `json:"name"`
	Lastname string     `json:"lastname"`
}

// HTTPDirectory talks to the personnel service:
// GET {base}/personel and GET {base}/personel/image?id={id}.
type HTTPDirectory struct {
	BaseURL string
	Client  *http.Client
}

var _ Directory = (*HTTPDirectory)(nil)

func NewHTTPDirectory(baseURL string, timeout time.Duration) *HTTPDirectory {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPDirectory{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout},
	}
}

func (d *HTTPDirectory) get(ctx context.Context, endpoint string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("directory: build request: %w", err)
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directory: GET %s: %w", endpoint, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, ErrPersonNotFound
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("directory: GET %s: unexpected status %d", endpoint, resp.StatusCode)
	}
	return resp, nil
}

func (d *HTTPDirectory) List(ctx context.Context) ([]Person, error) {
	resp, err := d.get(ctx, d.BaseURL+"/personel")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var records []personRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("directory: decode person list: %w", err)
	}
	people := make([]Person, 0, len(records))
	for _, r := range records {
		if r.ID == "" {
			continue
		}
		people = append(people, Person{ID: string(r.ID), Name: r.Name, Lastname: r.Lastname})
	}
	return people, nil
}

func (d *HTTPDirectory) Photo(ctx context.Context, id string) ([]byte, error) {
	resp, err := d.get(ctx, d.BaseURL+"/personel/image?id="+url.QueryEscape(id))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes+1))
	if err != nil {
		return nil, fmt.Errorf("directory: read photo %s: %w", id, err)
	}
	if len(data) > maxPhotoBytes {
		return nil, fmt.Errorf("directory: photo %s exceeds %d bytes", id, maxPhotoBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("directory: photo %s is empty", id)
	}
	return data, nil
}

// FolderDirectory enrolls from a local folder of photos. The file name
// without extension is the id; underscores in it become spaces in the label.
type FolderDirectory struct {
	Root string
}

var _ Directory = (*FolderDirectory)(nil)

func (d *FolderDirectory) List(ctx context.Context) ([]Person, error) {
	names, err := utils.ListImages(d.Root)
	if err != nil {
		return nil, err
	}
	people := make([]Person, 0, len(names))
	for _, name := range names {
		id := strings.TrimSuffix(name, filepath.Ext(name))
		people = append(people, Person{ID: id, Name: strings.ReplaceAll(id, "_", " ")})
	}
	return people, nil
}

func (d *FolderDirectory) Photo(ctx context.Context, id string) ([]byte, error) {
	names, err := utils.ListImages(d.Root)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		if strings.TrimSuffix(name, filepath.Ext(name)) == id {
			return os.ReadFile(filepath.Join(d.Root, name))
		}
	}
	return nil, ErrPersonNotFound
}
