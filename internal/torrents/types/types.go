// Package types defines shared types for torrent daemon clients.
package types

import (
	"context"
	"errors"
	"fmt"
)

// Common errors for daemon clients.
var (
	ErrNotFound   = errors.New("torrent not found")
	ErrAuthFailed = errors.New("authentication failed")
)

// DaemonError is a rejection reported by the daemon itself (as opposed to a
// transport failure). Its message is short enough to show to a user.
type DaemonError struct {
	Message string
}

func (e *DaemonError) Error() string {
	return fmt.Sprintf("daemon error: %s", e.Message)
}

// Status represents the daemon-reported state of a torrent.
type Status string

const (
	StatusStopped      Status = "stopped"
	StatusCheckWait    Status = "check pending"
	StatusChecking     Status = "checking"
	StatusDownloadWait Status = "download pending"
	StatusDownloading  Status = "downloading"
	StatusSeedWait     Status = "seed pending"
	StatusSeeding      Status = "seeding"
	StatusUnknown      Status = "unknown"
)

// Active reports whether the torrent is in a state worth auto-refreshing:
// the daemon is actively moving or verifying data.
func (s Status) Active() bool {
	return s == StatusDownloading || s == StatusSeeding || s == StatusChecking
}

// Torrent is a snapshot of a single torrent as reported by the daemon.
type Torrent struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Status   Status  `json:"status"`
	Progress float64 `json:"progress"` // 0-100
	ETA      int64   `json:"eta"`      // seconds, negative if unavailable
	Size     int64   `json:"size"`     // bytes when done

	Downloaded    int64  `json:"downloadedSize"`
	DownloadSpeed int64  `json:"downloadSpeed"` // bytes/sec
	UploadSpeed   int64  `json:"uploadSpeed"`   // bytes/sec
	DownloadDir   string `json:"downloadDir"`
	Error         string `json:"error,omitempty"`

	// Files is only populated by Get, not List.
	Files []File `json:"files,omitempty"`
}

// File is one file inside a torrent.
type File struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	Completed int64  `json:"completed"`
	Wanted    bool   `json:"wanted"`
}

// Client is the interface to a torrent daemon.
type Client interface {
	// Connection
	Test(ctx context.Context) error

	// Queries
	List(ctx context.Context) ([]Torrent, error)
	Get(ctx context.Context, id int64) (*Torrent, error) // ErrNotFound if absent

	// Adding. The returned snapshot carries at least ID and Name.
	AddMagnet(ctx context.Context, magnetURL string) (*Torrent, error)
	AddURL(ctx context.Context, url string) (*Torrent, error)
	AddFile(ctx context.Context, metainfo []byte) (*Torrent, error)

	// Control
	Start(ctx context.Context, id int64) error
	Stop(ctx context.Context, id int64) error
	Verify(ctx context.Context, id int64) error
	Remove(ctx context.Context, id int64, deleteData bool) error
	SetFilesWanted(ctx context.Context, id int64, fileIDs []int64, wanted bool) error

	// Session
	DownloadDir(ctx context.Context) (string, error)
	FreeSpace(ctx context.Context, path string) (int64, error)
}
