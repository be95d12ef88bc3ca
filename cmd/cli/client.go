package main

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
)

type tokenData struct {
	Token string `json:"token"`
}

func doJSON(ctx context.Context, client *http.Client, method, endpoint, token string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %s: %s", method, endpoint, resp.Status, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func saveToken(path, token string) error {
	if token == "" {
		return errors.New("empty token")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(tokenData{Token: token}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// readToken prefers COMICMAP_TOKEN over the token file.
func readToken(path string) (string, error) {
	if t := strings.TrimSpace(os.Getenv("COMICMAP_TOKEN")); t != "" {
		return t, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("no admin token (run `comicmap token --save`): %w", err)
	}
	var td tokenData
	if err := json.Unmarshal(data, &td); err != nil {
		return "", err
	}
	if strings.TrimSpace(td.Token) == "" {
		return "", errors.New("token file is empty")
	}
	return strings.TrimSpace(td.Token), nil
}

func websocketURL(base, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	return (&url.URL{Scheme: scheme, Host: u.Host, Path: path}).String(), nil
}
