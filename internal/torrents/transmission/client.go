// Package transmission implements a Transmission RPC client.
package transmission

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/transmote/transmote/internal/torrents/types"
)

const sessionIDHeader = "X-Transmission-Session-Id"

// Fields requested for list and detail views.
var listFields = []string{
	"id", "name", "status", "percentDone",
	"sizeWhenDone", "downloadedEver", "downloadDir",
	"eta", "rateDownload", "rateUpload", "error", "errorString",
}

var detailFields = append(append([]string{}, listFields...), "files", "fileStats")

// Config holds the configuration for a Transmission client.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	UseSSL   bool
}

// Client implements a Transmission RPC client that satisfies the types.Client interface.
type Client struct {
	config     Config
	sessionID  string
	httpClient *http.Client
}

// Compile-time check that Client implements types.Client.
var _ types.Client = (*Client)(nil)

// New creates a new Transmission client.
func New(cfg *Config) *Client {
	return &Client{
		config: *cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Test verifies the client connection.
func (c *Client) Test(ctx context.Context) error {
	_, err := c.call(ctx, "session-get", nil)
	return err
}

// List returns snapshots of all torrents, without file details.
func (c *Client) List(ctx context.Context) ([]types.Torrent, error) {
	args := map[string]interface{}{"fields": listFields}

	resp, err := c.call(ctx, "torrent-get", args)
	if err != nil {
		return nil, err
	}

	torrentsRaw, ok := resp.Arguments["torrents"].([]interface{})
	if !ok {
		return []types.Torrent{}, nil
	}

	torrents := make([]types.Torrent, 0, len(torrentsRaw))
	for _, t := range torrentsRaw {
		raw, ok := t.(map[string]interface{})
		if !ok {
			continue
		}
		torrents = append(torrents, mapToTorrent(raw))
	}

	return torrents, nil
}

// Get retrieves a specific torrent by ID, including its file list.
func (c *Client) Get(ctx context.Context, id int64) (*types.Torrent, error) {
	args := map[string]interface{}{
		"ids":    []int64{id},
		"fields": detailFields,
	}

	resp, err := c.call(ctx, "torrent-get", args)
	if err != nil {
		return nil, err
	}

	torrentsRaw, ok := resp.Arguments["torrents"].([]interface{})
	if !ok || len(torrentsRaw) == 0 {
		return nil, types.ErrNotFound
	}

	raw, ok := torrentsRaw[0].(map[string]interface{})
	if !ok {
		return nil, types.ErrNotFound
	}

	torrent := mapToTorrent(raw)
	torrent.Files = mapToFiles(raw)
	return &torrent, nil
}

// AddMagnet adds a torrent from a magnet URL.
func (c *Client) AddMagnet(ctx context.Context, magnetURL string) (*types.Torrent, error) {
	return c.add(ctx, map[string]interface{}{"filename": magnetURL})
}

// AddURL adds a torrent from a .torrent file URL.
func (c *Client) AddURL(ctx context.Context, url string) (*types.Torrent, error) {
	return c.add(ctx, map[string]interface{}{"filename": url})
}

// AddFile adds a torrent from raw .torrent file content.
func (c *Client) AddFile(ctx context.Context, metainfo []byte) (*types.Torrent, error) {
	return c.add(ctx, map[string]interface{}{
		"metainfo": base64.StdEncoding.EncodeToString(metainfo),
	})
}

func (c *Client) add(ctx context.Context, args map[string]interface{}) (*types.Torrent, error) {
	resp, err := c.call(ctx, "torrent-add", args)
	if err != nil {
		return nil, err
	}
	return extractAdded(resp)
}

// Start starts a torrent.
func (c *Client) Start(ctx context.Context, id int64) error {
	_, err := c.call(ctx, "torrent-start", idArgs(id))
	return err
}

// Stop stops a torrent.
func (c *Client) Stop(ctx context.Context, id int64) error {
	_, err := c.call(ctx, "torrent-stop", idArgs(id))
	return err
}

// Verify queues a torrent for local data verification.
func (c *Client) Verify(ctx context.Context, id int64) error {
	_, err := c.call(ctx, "torrent-verify", idArgs(id))
	return err
}

// Remove removes a torrent, optionally deleting its data on disk.
func (c *Client) Remove(ctx context.Context, id int64, deleteData bool) error {
	args := idArgs(id)
	args["delete-local-data"] = deleteData
	_, err := c.call(ctx, "torrent-remove", args)
	return err
}

// SetFilesWanted marks files inside a torrent as wanted or unwanted for download.
func (c *Client) SetFilesWanted(ctx context.Context, id int64, fileIDs []int64, wanted bool) error {
	args := idArgs(id)
	if wanted {
		args["files-wanted"] = fileIDs
	} else {
		args["files-unwanted"] = fileIDs
	}
	_, err := c.call(ctx, "torrent-set", args)
	return err
}

// DownloadDir returns the default download directory from Transmission.
func (c *Client) DownloadDir(ctx context.Context) (string, error) {
	resp, err := c.call(ctx, "session-get", nil)
	if err != nil {
		return "", err
	}

	if downloadDir, ok := resp.Arguments["download-dir"].(string); ok {
		return downloadDir, nil
	}

	return "", fmt.Errorf("download-dir not found in session response")
}

// FreeSpace returns the free space, in bytes, of the filesystem holding path.
func (c *Client) FreeSpace(ctx context.Context, path string) (int64, error) {
	resp, err := c.call(ctx, "free-space", map[string]interface{}{"path": path})
	if err != nil {
		return 0, err
	}

	return int64(getFloat(resp.Arguments, "size-bytes")), nil
}

// rpcRequest represents a Transmission RPC request.
type rpcRequest struct {
	Method    string                 `json:"method"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// rpcResponse represents a Transmission RPC response.
type rpcResponse struct {
	Result    string                 `json:"result"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

func (c *Client) call(ctx context.Context, method string, args map[string]interface{}) (*rpcResponse, error) {
	req, err := c.buildRPCRequest(ctx, method, args)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return c.handleSessionConflict(ctx, resp, method, args)
	}

	return parseRPCResponse(resp)
}

func (c *Client) buildRPCRequest(ctx context.Context, method string, args map[string]interface{}) (*http.Request, error) {
	scheme := "http"
	if c.config.UseSSL {
		scheme = "https"
	}
	url := fmt.Sprintf("%s://%s:%d/transmission/rpc", scheme, c.config.Host, c.config.Port)

	body, err := json.Marshal(rpcRequest{Method: method, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.sessionID != "" {
		req.Header.Set(sessionIDHeader, c.sessionID)
	}
	if c.config.Username != "" {
		auth := base64.StdEncoding.EncodeToString([]byte(c.config.Username + ":" + c.config.Password))
		req.Header.Set("Authorization", "Basic "+auth)
	}

	return req, nil
}

func (c *Client) handleSessionConflict(ctx context.Context, resp *http.Response, method string, args map[string]interface{}) (*rpcResponse, error) {
	c.sessionID = resp.Header.Get(sessionIDHeader)
	if c.sessionID == "" {
		return nil, fmt.Errorf("received 409 but no session ID in response")
	}
	return c.call(ctx, method, args)
}

func parseRPCResponse(resp *http.Response) (*rpcResponse, error) {
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, types.ErrAuthFailed
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if rpcResp.Result != "success" {
		return nil, &types.DaemonError{Message: rpcResp.Result}
	}

	return &rpcResp, nil
}

func idArgs(id int64) map[string]interface{} {
	return map[string]interface{}{"ids": []int64{id}}
}

// mapToTorrent converts a Transmission torrent response to a Torrent snapshot.
func mapToTorrent(raw map[string]interface{}) types.Torrent {
	torrent := types.Torrent{
		ID:            int64(getFloat(raw, "id")),
		Name:          getString(raw, "name"),
		Status:        mapStatus(getInt(raw, "status")),
		Progress:      getFloat(raw, "percentDone") * 100, // Convert from 0-1 to 0-100
		Size:          int64(getFloat(raw, "sizeWhenDone")),
		Downloaded:    int64(getFloat(raw, "downloadedEver")),
		DownloadSpeed: int64(getFloat(raw, "rateDownload")),
		UploadSpeed:   int64(getFloat(raw, "rateUpload")),
		ETA:           int64(getFloat(raw, "eta")),
		DownloadDir:   getString(raw, "downloadDir"),
	}

	if errNum := getInt(raw, "error"); errNum > 0 {
		torrent.Error = getString(raw, "errorString")
	}

	return torrent
}

// mapToFiles joins the parallel "files" and "fileStats" arrays of a
// torrent-get response into File entries. File IDs are array positions,
// which is also what torrent-set expects in files-wanted.
func mapToFiles(raw map[string]interface{}) []types.File {
	filesRaw, ok := raw["files"].([]interface{})
	if !ok {
		return nil
	}
	statsRaw, _ := raw["fileStats"].([]interface{})

	files := make([]types.File, 0, len(filesRaw))
	for i, f := range filesRaw {
		entry, ok := f.(map[string]interface{})
		if !ok {
			continue
		}

		file := types.File{
			ID:        int64(i),
			Name:      getString(entry, "name"),
			Size:      int64(getFloat(entry, "length")),
			Completed: int64(getFloat(entry, "bytesCompleted")),
			Wanted:    true,
		}

		if i < len(statsRaw) {
			if stat, ok := statsRaw[i].(map[string]interface{}); ok {
				file.Wanted = getBool(stat, "wanted")
				file.Completed = int64(getFloat(stat, "bytesCompleted"))
			}
		}

		files = append(files, file)
	}

	return files
}

// extractAdded extracts the added torrent from a torrent-add response.
// Transmission reports duplicates under a separate key with the same shape.
func extractAdded(resp *rpcResponse) (*types.Torrent, error) {
	for _, key := range []string{"torrent-added", "torrent-duplicate"} {
		if added, ok := resp.Arguments[key].(map[string]interface{}); ok {
			return &types.Torrent{
				ID:   int64(getFloat(added, "id")),
				Name: getString(added, "name"),
			}, nil
		}
	}
	return nil, fmt.Errorf("could not extract torrent from add response")
}

// mapStatus maps Transmission status codes to our status strings.
func mapStatus(status int) types.Status {
	switch status {
	case 0:
		return types.StatusStopped
	case 1:
		return types.StatusCheckWait
	case 2:
		return types.StatusChecking
	case 3:
		return types.StatusDownloadWait
	case 4:
		return types.StatusDownloading
	case 5:
		return types.StatusSeedWait
	case 6:
		return types.StatusSeeding
	default:
		return types.StatusUnknown
	}
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func getInt(m map[string]interface{}, key string) int {
	if v, ok := m[key].(float64); ok {
		return int(v)
	}
	return 0
}

func getFloat(m map[string]interface{}, key string) float64 {
	if v, ok := m[key].(float64); ok {
		return v
	}
	return 0
}

func getBool(m map[string]interface{}, key string) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return false
}
