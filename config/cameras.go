package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CameraConfig describes one stream to start when the server boots.
type CameraConfig struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`   // camera_name stored on every log record
	Source    string `yaml:"source"` // rtsp/http url, file path or device index
	Record    bool   `yaml:"record"`
	Autostart bool   `yaml:"autostart"`
}

type camerasFile struct {
	Cameras []CameraConfig `yaml:"cameras"`
}

// LoadCameras reads and validates a yaml camera list.
func LoadCameras(path string) ([]CameraConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cameras file: %w", err)
	}

	var file camerasFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse cameras file: %w", err)
	}

	if err := ValidateCameras(file.Cameras); err != nil {
		return nil, fmt.Errorf("invalid cameras file: %w", err)
	}
	return file.Cameras, nil
}

func ValidateCameras(cameras []CameraConfig) error {
	seen := make(map[string]bool, len(cameras))
	var errs []error
	for i := range cameras {
		cam := &cameras[i]
		if cam.ID == "" {
			errs = append(errs, fmt.Errorf("camera %d: id is required", i))
			continue
		}
		if seen[cam.ID] {
			errs = append(errs, fmt.Errorf("camera %s: duplicate id", cam.ID))
		}
		seen[cam.ID] = true
		if cam.Source == "" {
			errs = append(errs, fmt.Errorf("camera %s: source is required", cam.ID))
		}
		if cam.Name == "" {
			cam.Name = cam.ID
		}
	}
	return errors.Join(errs...)
}
