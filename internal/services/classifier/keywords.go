package classifier

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.yaml.in/yaml/v4"
)

type keywordFile struct {
	Delivered []string `yaml:"delivered"`
}

// LoadFile reads a YAML document of the form
//
//	delivered:
//	  - consegnat
//	  - delivered
func LoadFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read keyword file %s", path)
	}
	var f keywordFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrapf(err, "parse keyword file %s", path)
	}
	if len(normalize(f.Delivered)) == 0 {
		return nil, errors.Errorf("keyword file %s has no delivered keywords", path)
	}
	return f.Delivered, nil
}

// Watch reloads the keyword file into c whenever it changes, until ctx is
// done. A file that fails to parse leaves the current keywords in place.
// The parent directory is watched so editors that replace the file by rename
// are picked up.
func (c *Classifier) Watch(ctx context.Context, path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "keyword watcher")
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return errors.Wrapf(err, "keyword watcher add %s", path)
	}

	target := filepath.Clean(path)
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
					continue
				}
				kw, err := LoadFile(path)
				if err != nil {
					slog.Error("reload classifier keywords", "path", path, "error", err.Error())
					continue
				}
				c.SetKeywords(kw)
				slog.Info("classifier keywords reloaded", "path", path, "count", len(kw))
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("keyword watcher", "error", err.Error())
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}
