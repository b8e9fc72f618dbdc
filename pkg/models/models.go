package models

import "time"

// JobStatus is the lifecycle state of a scrape job as seen by the tracker
type JobStatus string

const (
	StatusRunning   JobStatus = "RUNNING"
	StatusSucceeded JobStatus = "SUCCEEDED"
	StatusFailed    JobStatus = "FAILED"
	StatusTimeout   JobStatus = "TIMEOUT"
)

// Terminal reports whether no further polling happens for this status
func (s JobStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusTimeout
}

// ScrapeJob tracks one remote scrape run for one profile
type ScrapeJob struct {
	RunID           string     `json:"runId"`
	ProfileUsername string     `json:"profileUsername"`
	UserID          string     `json:"userId"`
	Status          JobStatus  `json:"status"`
	Processing      bool       `json:"processing"`
	StartedAt       time.Time  `json:"startedAt"`
	FinishedAt      *time.Time `json:"finishedAt,omitempty"`
	DatasetID       string     `json:"datasetId,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// RunStatus is the normalized answer of a job-runner status check
type RunStatus struct {
	Status     JobStatus  `json:"status"`
	RawStatus  string     `json:"rawStatus"`
	DatasetID  string     `json:"datasetId,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// Profile is a stored Instagram profile owned by one dashboard user
type Profile struct {
	ID                 string    `json:"id"`
	UserID             string    `json:"userId"`
	ExternalID         string    `json:"instagramId"`
	Username           string    `json:"username"`
	DisplayName        string    `json:"fullName"`
	Bio                string    `json:"biography"`
	FollowerCount      int64     `json:"followersCount"`
	FollowingCount     int64     `json:"followsCount"`
	PostCount          int64     `json:"postsCount"`
	ProfileImageRef    string    `json:"profilePicUrl"`
	ProfileImageStored bool      `json:"profilePicFromStorage"`
	IsBusinessAccount  bool      `json:"isBusinessAccount"`
	BusinessCategory   string    `json:"businessCategoryName,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// Post kinds reported by the scraper. Unknown kinds are kept verbatim.
const (
	KindImage   = "Image"
	KindVideo   = "Video"
	KindSidecar = "Sidecar"
)

// Post is one stored post of a profile
type Post struct {
	ID               string     `json:"id"`
	ProfileID        string     `json:"profileId"`
	ExternalID       string     `json:"instagramId"`
	ShortCode        string     `json:"shortCode"`
	Kind             string     `json:"type"`
	Permalink        string     `json:"url"`
	Caption          string     `json:"caption"`
	PublishedAt      *time.Time `json:"timestamp,omitempty"`
	LikeCount        int64      `json:"likesCount"`
	CommentCount     int64      `json:"commentsCount"`
	VideoViewCount   *int64     `json:"videoViewCount,omitempty"`
	MediaRef         string     `json:"displayUrl"`
	IsVideo          bool       `json:"isVideo"`
	Hashtags         []string   `json:"hashtags"`
	Mentions         []string   `json:"mentions"`
	ProductType      string     `json:"productType,omitempty"`
	CommentsDisabled bool       `json:"isCommentsDisabled"`
	MediaStored      bool       `json:"imageFromStorage"`
}

// AcquisitionResult is the outcome of resolving one remote image
type AcquisitionResult struct {
	FinalRef string `json:"finalRef"`
	Stored   bool   `json:"stored"`
}

// IngestResult summarizes one dataset ingestion
type IngestResult struct {
	Success          bool     `json:"success"`
	Error            string   `json:"error,omitempty"`
	Profile          *Profile `json:"profile,omitempty"`
	PostCount        int      `json:"postCount"`
	StoredImageCount int      `json:"storedImageCount"`
	TotalImageCount  int      `json:"totalImageCount"`
	Warnings         []string `json:"warnings,omitempty"`
}

// Failed builds an unsuccessful IngestResult
func Failed(msg string) IngestResult {
	return IngestResult{Success: false, Error: msg}
}
