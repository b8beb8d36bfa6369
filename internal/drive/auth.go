package drive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"

	"kartka/internal/logger"
)

// NewHTTPClient returns an authorized client for the credentials file.
//
// A service account key is used directly. An OAuth client ("installed" application) needs
// a user token: it is read from tokenPath, or obtained through the browser consent flow
// and cached there.
func NewHTTPClient(ctx context.Context, credentialsFile, tokenPath string) (*http.Client, error) {
	const op = "NewHTTPClient"

	if credentialsFile == "" {
		return nil, fmt.Errorf("%s: %w: layout.credentials is not set", op, ErrMissingCredentials)
	}
	creds, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrMissingCredentials, err)
	}

	var kind struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(creds, &kind); err != nil {
		return nil, fmt.Errorf("%s: failed to parse credentials: %w", op, err)
	}

	if kind.Type == "service_account" {
		config, err := google.JWTConfigFromJSON(creds, drive.DriveScope)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to parse credentials: %w", op, err)
		}
		return config.Client(ctx), nil
	}

	config, err := google.ConfigFromJSON(creds, drive.DriveScope)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse credentials: %w", op, err)
	}

	tok, err := loadToken(tokenPath)
	if err != nil {
		tok, err = authorize(ctx, config)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if err := saveToken(tokenPath, tok); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return config.Client(ctx, tok), nil
}

func loadToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, err
	}
	if tok.RefreshToken == "" && !tok.Valid() {
		return nil, errors.New("cached token expired")
	}
	return tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to cache token: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(tok)
}

// authorize runs the consent flow against a loopback redirect.
func authorize(ctx context.Context, config *oauth2.Config) (*oauth2.Token, error) {
	log := logger.WithComponent("drive-auth")

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to start redirect listener: %w", err)
	}
	defer listener.Close()

	config.RedirectURL = fmt.Sprintf("http://%s/", listener.Addr().String())
	state := fmt.Sprintf("kartka-%d", os.Getpid())

	codes := make(chan string, 1)
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, "kartka is authorized, you can close this tab.")
		select {
		case codes <- r.URL.Query().Get("code"):
		default:
		}
	})}
	go srv.Serve(listener)
	defer srv.Close()

	authURL := config.AuthCodeURL(state, oauth2.AccessTypeOffline)
	log.Info().Str("url", authURL).Msg("Open this link in your browser to authorize Google Drive access")
	fmt.Fprintf(os.Stderr, "\nAuthorize kartka:\n%s\n\n", authURL)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case code := <-codes:
		tok, err := config.Exchange(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
		}
		return tok, nil
	}
}
