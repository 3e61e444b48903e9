package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/ruiji/internal/models"
)

var httpClient = &http.Client{Timeout: 2 * time.Minute}

// searchViaHTTP uploads imagePath to a running server's search-similar endpoint.
func searchViaHTTP(serverURL, imagePath, model string, topK int) (*models.SearchResponse, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, err
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(imagePath))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if model != "" {
		_ = mw.WriteField("model", model)
	}
	if topK > 0 {
		_ = mw.WriteField("top_k", strconv.Itoa(topK))
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	resp, err := httpClient.Post(endpoint(serverURL, "/api/vision/search-similar"), mw.FormDataContentType(), &body)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	var response models.SearchResponse
	if err := decodeResponse(resp, http.StatusOK, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

func statusViaHTTP(serverURL string) (map[string]interface{}, error) {
	resp, err := httpClient.Get(endpoint(serverURL, "/api/v1/status"))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	var status map[string]interface{}
	if err := decodeResponse(resp, http.StatusOK, &status); err != nil {
		return nil, err
	}
	return status, nil
}

func watchAdd(serverURL, path string, syncExisting bool) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(map[string]interface{}{"path": abs, "sync": syncExisting})
	if err != nil {
		return "", err
	}
	resp, err := httpClient.Post(endpoint(serverURL, "/api/v1/watch/directories"), "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if err := decodeResponse(resp, http.StatusCreated, nil); err != nil {
		return "", fmt.Errorf("add failed: %w", err)
	}
	return abs, nil
}

func watchRemove(serverURL, path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequest(http.MethodDelete, endpoint(serverURL, "/api/v1/watch/directories")+"?path="+url.QueryEscape(abs), nil)
	if err != nil {
		return "", err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if err := decodeResponse(resp, http.StatusOK, nil); err != nil {
		return "", fmt.Errorf("remove failed: %w", err)
	}
	return abs, nil
}

func watchList(serverURL string) ([]string, error) {
	resp, err := httpClient.Get(endpoint(serverURL, "/api/v1/watch/directories"))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	var out struct {
		Directories []string `json:"directories"`
	}
	if err := decodeResponse(resp, http.StatusOK, &out); err != nil {
		return nil, fmt.Errorf("list failed: %w", err)
	}
	return out.Directories, nil
}

func endpoint(serverURL, path string) string {
	return strings.TrimRight(serverURL, "/") + path
}

// decodeResponse checks the status code and decodes the JSON body into v when v is non-nil.
func decodeResponse(resp *http.Response, want int, v interface{}) error {
	if resp.StatusCode != want {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
