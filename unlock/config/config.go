/*
	Copyright 2025 NetFoundry Inc.

	Licensed under the Apache License, Version 2.0 (the "License");
	you may not use this file except in compliance with the License.
	You may obtain a copy of the License at

	https://www.apache.org/licenses/LICENSE-2.0

	Unless required by applicable law or agreed to in writing, software
	distributed under the License is distributed on an "AS IS" BASIS,
	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
	See the License for the specific language governing permissions and
	limitations under the License.
*/


// Package config serves the unlock engine configuration from a JSON, YAML or TOML file, optionally reloading it
// whenever the file changes.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cenkalti/backoff/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/michaelquigley/pfxlog"
	"github.com/mitchellh/mapstructure"
	"github.com/openziti/foundation/v2/concurrenz"
	"github.com/openziti/unlock-automation/unlock"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Format string

const (
	JSON Format = "json"
	YAML Format = "yaml"
	TOML Format = "toml"
)

// FormatOf picks the document format from the file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return JSON, nil
	case ".yaml", ".yml":
		return YAML, nil
	case ".toml":
		return TOML, nil
	default:
		return "", errors.Errorf("unsupported config file extension '%s'", filepath.Ext(path))
	}
}

// Decode parses data and decodes it over the default configuration. Keys not present keep their defaults, unknown
// keys are an error.
func Decode(data []byte, format Format) (unlock.EngineConfig, error) {
	cfg := unlock.DefaultEngineConfig()

	doc := map[string]interface{}{}
	var err error
	switch format {
	case JSON:
		err = json.Unmarshal(data, &doc)
	case YAML:
		err = yaml.Unmarshal(data, &doc)
	case TOML:
		_, err = toml.Decode(string(data), &doc)
	default:
		return cfg, errors.Errorf("unsupported config format '%s'", format)
	}
	if err != nil {
		return cfg, errors.Wrapf(err, "unable to parse %s unlock configuration", format)
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &cfg,
		ErrorUnused: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.TextUnmarshallerHookFunc(),
			mapstructure.StringToTimeDurationHookFunc()),
	})
	if err != nil {
		return cfg, errors.Wrap(err, "unable to setup decoder for unlock configuration")
	}

	if err = decoder.Decode(doc); err != nil {
		return unlock.DefaultEngineConfig(), errors.Wrap(err, "unable to decode unlock configuration")
	}

	return cfg.WithDefaults(), nil
}

var _ unlock.ConfigSource = (*FileSource)(nil)

// FileSource is a ConfigSource backed by a file. LoadEngineConfig serves the last successfully read snapshot and
// never touches the disk.
type FileSource struct {
	path   string
	format Format

	// ReloadTimeout bounds how long a change is retried while the file is unreadable or half written.
	ReloadTimeout time.Duration
	// Debounce is how long Watch waits after the last change event before reloading.
	Debounce time.Duration

	current concurrenz.AtomicValue[*unlock.EngineConfig]

	watchLock   sync.Mutex
	watcher     *fsnotify.Watcher
	closeNotify chan struct{}
	closeOnce   sync.Once
}

// NewFileSource reads path once. A missing file yields the default configuration, with every automation off.
func NewFileSource(path string) (*FileSource, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}

	source := &FileSource{
		path:          filepath.Clean(path),
		format:        format,
		ReloadTimeout: 5 * time.Second,
		Debounce:      100 * time.Millisecond,
		closeNotify:   make(chan struct{}),
	}

	if err = source.Reload(); err != nil {
		return nil, err
	}
	return source, nil
}

func (self *FileSource) Path() string {
	return self.path
}

func (self *FileSource) LoadEngineConfig() (unlock.EngineConfig, error) {
	cfg := self.current.Load()
	if cfg == nil {
		return unlock.EngineConfig{}, errors.Errorf("no unlock configuration loaded from %s", self.path)
	}
	return *cfg, nil
}

// Reload reads the file and replaces the snapshot. On error the previous snapshot is kept.
func (self *FileSource) Reload() error {
	log := pfxlog.Logger().WithField("path", self.path)

	info, err := os.Lstat(self.path)
	if os.IsNotExist(err) {
		log.Info("unlock configuration file not found, using defaults")
		cfg := unlock.DefaultEngineConfig()
		self.current.Store(&cfg)
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "unable to stat unlock configuration %s", self.path)
	}

	if info.Mode()&os.ModeSymlink != 0 {
		resolved, _ := filepath.EvalSymlinks(self.path)
		log.Debugf("unlock configuration is a symlink to %s", resolved)
	}

	data, err := os.ReadFile(self.path)
	if err != nil {
		return errors.Wrapf(err, "unable to read unlock configuration %s", self.path)
	}

	cfg, err := Decode(data, self.format)
	if err != nil {
		return errors.Wrapf(err, "invalid unlock configuration %s", self.path)
	}

	self.current.Store(&cfg)
	log.WithField("directMode", cfg.DirectMode.String()).
		WithField("smartEnabled", cfg.SmartEnabled).
		WithField("quickUnlock", cfg.QuickUnlock).
		Debug("unlock configuration read")
	return nil
}

// Watch reloads the file whenever it is written or replaced, until Close is called. The containing directory is
// watched so editors that replace the file by rename are followed. ReloadTimeout and Debounce must not be changed
// once watching.
func (self *FileSource) Watch() error {
	self.watchLock.Lock()
	defer self.watchLock.Unlock()

	select {
	case <-self.closeNotify:
		return errors.New("file source closed")
	default:
	}

	if self.watcher != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "unable to create unlock configuration watcher")
	}

	if err = watcher.Add(filepath.Dir(self.path)); err != nil {
		_ = watcher.Close()
		return errors.Wrapf(err, "unable to watch %s", filepath.Dir(self.path))
	}

	self.watcher = watcher
	go self.watchLoop(watcher)
	return nil
}

func (self *FileSource) watchLoop(watcher *fsnotify.Watcher) {
	log := pfxlog.Logger().WithField("path", self.path)

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-self.closeNotify:
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != self.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(self.Debounce, self.reloadWithRetry)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("unlock configuration watcher error")
		}
	}
}

func (self *FileSource) reloadWithRetry() {
	log := pfxlog.Logger().WithField("path", self.path)

	operation := func() error {
		select {
		case <-self.closeNotify:
			return backoff.Permanent(errors.New("file source closed"))
		default:
		}
		return self.Reload()
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 50 * time.Millisecond
	expBackoff.MaxInterval = time.Second
	expBackoff.MaxElapsedTime = self.ReloadTimeout

	if err := backoff.Retry(operation, expBackoff); err != nil {
		log.WithError(err).Error("unable to reload unlock configuration, keeping previous configuration")
		return
	}
	log.Info("unlock configuration reloaded")
}

// Close stops watching. The last snapshot stays available.
func (self *FileSource) Close() error {
	var err error
	self.closeOnce.Do(func() {
		close(self.closeNotify)

		self.watchLock.Lock()
		defer self.watchLock.Unlock()
		if self.watcher != nil {
			err = self.watcher.Close()
		}
	})
	return err
}
