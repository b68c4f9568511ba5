package notes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/docs/v1"
	"google.golang.org/api/option"

	"github.com/teslashibe/voicenote/internal/httpc"
)

// ErrNotAuthenticated is returned when the Google Docs sink has no token.
var ErrNotAuthenticated = errors.New("notes: not connected to Google, run `voicenote notes auth`")

// DefaultRedirectURL receives the OAuth callback during `notes auth`.
const DefaultRedirectURL = "http://localhost:8085/callback"

const docsTimeout = 30 * time.Second

// GoogleDocsConfig configures the Google Docs sink.
type GoogleDocsConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// TokenPath stores the OAuth token (default: ~/.voicenote/google_token.json).
	TokenPath string

	// Endpoint overrides the Docs API base URL.
	Endpoint string

	// Token seeds the sink without reading TokenPath.
	Token *oauth2.Token
}

// GoogleDocsSink saves each note as a new Google Doc.
type GoogleDocsSink struct {
	config    *oauth2.Config
	tokenPath string
	endpoint  string

	mu      sync.RWMutex
	token   *oauth2.Token
	service *docs.Service
}

// NewGoogleDocsSink creates the sink and loads a stored token if present.
func NewGoogleDocsSink(cfg GoogleDocsConfig) (*GoogleDocsSink, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("notes: GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET are required")
	}
	if cfg.RedirectURL == "" {
		cfg.RedirectURL = DefaultRedirectURL
	}
	if cfg.TokenPath == "" {
		home, _ := os.UserHomeDir()
		cfg.TokenPath = filepath.Join(home, ".voicenote", "google_token.json")
	}

	g := &GoogleDocsSink{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes: []string{
				"https://www.googleapis.com/auth/documents",
				"https://www.googleapis.com/auth/drive.file",
			},
			Endpoint: google.Endpoint,
		},
		tokenPath: cfg.TokenPath,
		endpoint:  cfg.Endpoint,
	}

	token := cfg.Token
	if token == nil {
		token, _ = g.loadToken()
	}
	if token != nil {
		if err := g.setToken(token); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Name implements Sink.
func (g *GoogleDocsSink) Name() string { return "google-docs" }

// Authenticated reports whether a token is loaded.
func (g *GoogleDocsSink) Authenticated() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.service != nil
}

// AuthURL returns the consent URL for the given state.
func (g *GoogleDocsSink) AuthURL(state string) string {
	return g.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a token and stores it.
func (g *GoogleDocsSink) Exchange(ctx context.Context, code string) error {
	ctx, cancel := context.WithTimeout(ctx, docsTimeout)
	defer cancel()

	token, err := g.config.Exchange(oauthContext(ctx), code)
	if err != nil {
		return fmt.Errorf("notes: exchange code: %w", err)
	}
	if err := g.setToken(token); err != nil {
		return err
	}
	return g.saveToken(token)
}

// Disconnect forgets the token and removes it from disk.
func (g *GoogleDocsSink) Disconnect() error {
	g.mu.Lock()
	g.token = nil
	g.service = nil
	g.mu.Unlock()

	if err := os.Remove(g.tokenPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("notes: remove token: %w", err)
	}
	return nil
}

// Save creates a document for the note and returns its URL.
func (g *GoogleDocsSink) Save(ctx context.Context, n Note) (string, error) {
	id, err := g.CreateDoc(ctx, n.Title, Format(n))
	if err != nil {
		return "", err
	}
	return GetDocURL(id), nil
}

// CreateDoc creates a document with the given title and body text.
func (g *GoogleDocsSink) CreateDoc(ctx context.Context, title, content string) (string, error) {
	g.mu.RLock()
	service := g.service
	g.mu.RUnlock()
	if service == nil {
		return "", ErrNotAuthenticated
	}

	ctx, cancel := context.WithTimeout(ctx, docsTimeout)
	defer cancel()

	created, err := service.Documents.Create(&docs.Document{Title: title}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("notes: create document: %w", err)
	}
	if content == "" {
		return created.DocumentId, nil
	}

	_, err = service.Documents.BatchUpdate(created.DocumentId, &docs.BatchUpdateDocumentRequest{
		Requests: []*docs.Request{{
			InsertText: &docs.InsertTextRequest{
				Location: &docs.Location{Index: 1},
				Text:     content,
			},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return created.DocumentId, fmt.Errorf("notes: created document but failed to add content: %w", err)
	}
	return created.DocumentId, nil
}

// GetDocURL returns the edit URL of a document.
func GetDocURL(docID string) string {
	return fmt.Sprintf("https://docs.google.com/document/d/%s/edit", docID)
}

// oauthContext makes the oauth2 package use the shared client for token
// exchange, refresh and Docs API calls.
func oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, httpc.Client)
}

func (g *GoogleDocsSink) setToken(token *oauth2.Token) error {
	ctx := context.Background()
	opts := []option.ClientOption{option.WithHTTPClient(g.config.Client(oauthContext(ctx), token))}
	if g.endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.endpoint))
	}

	service, err := docs.NewService(ctx, opts...)
	if err != nil {
		return fmt.Errorf("notes: create docs service: %w", err)
	}

	g.mu.Lock()
	g.token = token
	g.service = service
	g.mu.Unlock()
	return nil
}

func (g *GoogleDocsSink) loadToken() (*oauth2.Token, error) {
	data, err := os.ReadFile(g.tokenPath)
	if err != nil {
		return nil, err
	}
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

func (g *GoogleDocsSink) saveToken(token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(g.tokenPath), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(g.tokenPath, data, 0600)
}
