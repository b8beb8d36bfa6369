package models

import "time"

// RemoteEntry describes one document stored in the remote folder.
type RemoteEntry struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	CreatedTime time.Time `json:"created_time"`
}
