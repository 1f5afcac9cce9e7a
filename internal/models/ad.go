package models

import (
	"fmt"
	"strings"
	"time"
)

// Record field names shared by the extractor, aggregator and persister.
const (
	FieldAdvertiser  = "advertiser"
	FieldText        = "text"
	FieldCTAText     = "ctaText"
	FieldSponsorInfo = "sponsorInfo"
)

// ProxyCandidate is a relay address considered for assignment to a session.
type ProxyCandidate struct {
	Address       string    `json:"address"`
	Protocol      string    `json:"protocol"` // "http" or "socks5"
	Origin        string    `json:"origin,omitempty"`
	Validated     bool      `json:"validated"`
	LastProbedAt  time.Time `json:"last_probed_at"`
	FailureReason string    `json:"failure_reason,omitempty"`
}

// URL renders the candidate as a proxy URL usable by browsers and HTTP clients.
func (p ProxyCandidate) URL() string {
	protocol := p.Protocol
	if protocol == "" {
		protocol = "http"
	}
	return fmt.Sprintf("%s://%s", protocol, p.Address)
}

// SafeName returns the address in a form usable inside file names.
func (p ProxyCandidate) SafeName() string {
	return strings.NewReplacer(":", "_", "/", "_", ".", "-").Replace(p.Address)
}

// JobConfig is the immutable configuration snapshot of one harvesting job.
type JobConfig struct {
	MaxWorkers           int               `json:"max_workers"`
	MaxRecordsPerSession int               `json:"max_records_per_session"`
	ScrollAttempts       int               `json:"scroll_attempts"`
	PlateauThreshold     int               `json:"plateau_threshold"`
	WarmupEvery          int               `json:"warmup_every"`
	Headless             bool              `json:"headless"`
	TargetURLTemplate    string            `json:"target_url_template"`
	SearchFilters        map[string]string `json:"search_filters"`
	OutputDir            string            `json:"output_dir"`
	Formats              []string          `json:"formats"`

	NavigationTimeout time.Duration `json:"navigation_timeout"`
	SelectorTimeout   time.Duration `json:"selector_timeout"`
	JobDeadline       time.Duration `json:"job_deadline"`
	ValidationTimeout time.Duration `json:"validation_timeout"`
}

// Search filter keys understood by the summary and the default URL template.
const (
	FilterSearchTerm = "q"
	FilterCountry    = "country"
)

func (c JobConfig) SearchTerm() string    { return c.SearchFilters[FilterSearchTerm] }
func (c JobConfig) CountryFilter() string { return c.SearchFilters[FilterCountry] }

// ExtractedRecord is one structured item pulled from a page. It is never
// mutated after NewExtractedRecord returns.
type ExtractedRecord struct {
	Fields      map[string]string `json:"fields"`
	MediaURLs   []string          `json:"media_urls"`
	SourceProxy string            `json:"source_proxy"`
	ExtractedAt time.Time         `json:"extracted_at"`
	DedupKey    string            `json:"dedup_key"`
}

// NewExtractedRecord copies fields and media so the caller cannot alias them.
func NewExtractedRecord(fields map[string]string, media []string, proxy string, at time.Time, key string) ExtractedRecord {
	f := make(map[string]string, len(fields))
	for k, v := range fields {
		f[k] = v
	}
	m := make([]string, len(media))
	copy(m, media)

	return ExtractedRecord{
		Fields:      f,
		MediaURLs:   m,
		SourceProxy: proxy,
		ExtractedAt: at,
		DedupKey:    key,
	}
}

// Field returns the named field or an empty string.
func (r ExtractedRecord) Field(name string) string {
	return r.Fields[name]
}

type SessionStatus string

const (
	StatusSuccess SessionStatus = "success"
	StatusBlocked SessionStatus = "blocked"
	StatusError   SessionStatus = "error"
	StatusTimeout SessionStatus = "timeout"
)

// SessionResult is produced exactly once per session at termination.
type SessionResult struct {
	Proxy       ProxyCandidate    `json:"proxy"`
	Records     []ExtractedRecord `json:"records"`
	Status      SessionStatus     `json:"status"`
	ErrorDetail string            `json:"error_detail,omitempty"`
	Rounds      int               `json:"rounds"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at"`
}

// JobSummary holds the aggregate counters of a finished job.
type JobSummary struct {
	JobID                 string    `json:"job_id"`
	SearchTerm            string    `json:"search_term"`
	CountryFilter         string    `json:"country_filter"`
	TotalRecords          int       `json:"total_records"`
	UniqueAdvertiserCount int       `json:"unique_advertiser_count"`
	SuccessfulSessions    int       `json:"successful_sessions"`
	FailedSessions        int       `json:"failed_sessions"`
	BlockedSessions       int       `json:"blocked_sessions"`
	TimedOutSessions      int       `json:"timed_out_sessions"`
	ProxiesUsed           []string  `json:"proxies_used"`
	StartedAt             time.Time `json:"started_at"`
	DurationSeconds       float64   `json:"duration_seconds"`
}

// JobContext is passed explicitly to every component of a job run.
type JobContext struct {
	ID        string
	Config    JobConfig
	StartedAt time.Time
}
