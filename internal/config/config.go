// Package config loads voicenote command configuration from a YAML file,
// a .env file and the environment, in that order of precedence (lowest
// first).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/teslashibe/voicenote/pkg/audioio"
	"github.com/teslashibe/voicenote/pkg/notes"
	"github.com/teslashibe/voicenote/pkg/voice"
)

// Environment variables overlaid on the file configuration.
const (
	EnvAPIURL       = "VOICENOTE_API_URL"
	EnvUploadURL    = "VOICENOTE_UPLOAD_URL"
	EnvLogLevel     = "VOICENOTE_LOG_LEVEL"
	EnvAudioBackend = "VOICENOTE_AUDIO_BACKEND"
	EnvNotesDir     = "VOICENOTE_NOTES_DIR"
	EnvGoogleID     = "GOOGLE_CLIENT_ID"
	EnvGoogleSecret = "GOOGLE_CLIENT_SECRET"
)

// API locates the backend.
type API struct {
	// URL is the voice service origin.
	URL string `yaml:"url"`

	// UploadURL is the REST base for uploads. Defaults to URL.
	UploadURL string `yaml:"upload_url"`

	// HandshakeTimeout bounds the Socket.IO connect.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

// Notes configures where finished meetings go.
type Notes struct {
	Dir        string `yaml:"dir"`
	Language   string `yaml:"language"`
	GoogleDocs bool   `yaml:"google_docs"`
}

// Google holds OAuth client settings for the Docs sink.
type Google struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
	TokenPath    string `yaml:"token_path"`
}

// DevServer configures the local backend stand-in.
type DevServer struct {
	Addr            string        `yaml:"addr"`
	WritingInterval time.Duration `yaml:"writing_interval"`
}

// Config is the full command configuration.
type Config struct {
	LogLevel  string         `yaml:"log_level"`
	API       API            `yaml:"api"`
	Audio     audioio.Config `yaml:"audio"`
	Playback  bool           `yaml:"playback"`
	Notes     Notes          `yaml:"notes"`
	Google    Google         `yaml:"google"`
	DevServer DevServer      `yaml:"dev_server"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		API: API{
			URL:              voice.DefaultURL,
			HandshakeTimeout: 10 * time.Second,
		},
		Audio:    audioio.DefaultConfig(),
		Playback: true,
		Notes: Notes{
			Dir:      notes.DefaultNotesDir(),
			Language: string(notes.LanguageEnglish),
		},
		Google: Google{RedirectURL: notes.DefaultRedirectURL},
		DevServer: DevServer{
			Addr:            ":3001",
			WritingInterval: time.Second,
		},
	}
}

// DefaultPath returns ~/.voicenote/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".voicenote", "config.yaml")
}

// Load reads path (or DefaultPath when empty and present), loads .env from
// the working directory if present, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if err := cfg.decode(f); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
	case explicit || !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: .env: %w", err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults without touching the environment.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c *Config) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(EnvAPIURL, &c.API.URL)
	set(EnvUploadURL, &c.API.UploadURL)
	set(EnvLogLevel, &c.LogLevel)
	set(EnvNotesDir, &c.Notes.Dir)
	set(EnvGoogleID, &c.Google.ClientID)
	set(EnvGoogleSecret, &c.Google.ClientSecret)

	if v, ok := lookup(EnvAudioBackend); ok && v != "" {
		b, err := audioio.ParseBackend(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvAudioBackend, err)
		}
		c.Audio.Backend = b
	}
	return nil
}

// UploadBase returns the upload base URL.
func (c *Config) UploadBase() string {
	if c.API.UploadURL != "" {
		return c.API.UploadURL
	}
	return c.API.URL
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := checkURL("api.url", c.API.URL); err != nil {
		return err
	}
	if c.API.UploadURL != "" {
		if err := checkURL("api.upload_url", c.API.UploadURL); err != nil {
			return err
		}
	}
	if c.API.HandshakeTimeout <= 0 {
		return fmt.Errorf("config: api.handshake_timeout must be positive")
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("config: audio: %w", err)
	}
	switch notes.Language(c.Notes.Language) {
	case notes.LanguageEnglish, notes.LanguageVietnamese:
	default:
		return fmt.Errorf("config: notes.language must be en or vi, got %q", c.Notes.Language)
	}
	if c.Notes.GoogleDocs && (c.Google.ClientID == "" || c.Google.ClientSecret == "") {
		return fmt.Errorf("config: notes.google_docs requires google.client_id and google.client_secret")
	}
	return nil
}

func checkURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("config: %s must be an absolute URL, got %q", name, raw)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
		return nil
	default:
		return fmt.Errorf("config: %s has unsupported scheme %q", name, u.Scheme)
	}
}
