package harvest

import (
	"net/http"
	"net/url"
	"strings"
	"time"
)

// JobStatus represents the lifecycle state of a harvest job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is a terminal state.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// StrategyName selects the discovery strategy for a job.
type StrategyName string

// Discovery strategies accepted by Submit.
const (
	StrategySeries   StrategyName = "series"
	StrategyHistory  StrategyName = "history"
	StrategyDiscover StrategyName = "discover"
)

// ParseStrategy validates a client-supplied strategy name.
func ParseStrategy(raw string) (StrategyName, bool) {
	switch StrategyName(raw) {
	case StrategySeries, StrategyHistory, StrategyDiscover:
		return StrategyName(raw), true
	default:
		return "", false
	}
}

// JobParameters captures per-job knobs requested by the client.
type JobParameters struct {
	SeedURL     string       `json:"seed_url"`
	Strategy    StrategyName `json:"strategy"`
	MaxArticles int          `json:"max_articles"`
	MaxDepth    int          `json:"max_depth,omitempty"`
	// TimeFloor stops history pagination once articles are older.
	TimeFloor *time.Time `json:"time_floor,omitempty"`
}

// Job is the metadata persisted for each submitted harvest request.
type Job struct {
	ID         string        `json:"id"`
	Status     JobStatus     `json:"status"`
	Parameters JobParameters `json:"parameters"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
	Started    *time.Time    `json:"started_at,omitempty"`
	Finished   *time.Time    `json:"finished_at,omitempty"`
	// ErrorSummary holds the aggregate failure reason for terminal failures.
	ErrorSummary string      `json:"error_summary,omitempty"`
	Counters     JobCounters `json:"counters"`
	// RecentErrors is a bounded list of the latest candidate-level failures.
	RecentErrors []string `json:"recent_errors,omitempty"`
}

// JobCounters tracks per-job article outcomes.
type JobCounters struct {
	ArticlesFound  int `json:"articles_found"`
	ArticlesFailed int `json:"articles_failed"`
	Duplicates     int `json:"duplicates"`
	Retries        int `json:"retries"`
}

// Origin records which strategy produced a candidate and from which page.
type Origin struct {
	Strategy  StrategyName `json:"strategy"`
	ParentURL string       `json:"parent_url,omitempty"`
}

// Candidate is a queued, not-yet-fetched URL within a job. It is scoped to
// one job and owned by the frontier until it succeeds or fails permanently.
type Candidate struct {
	URL           string `json:"url"`
	DiscoveredVia Origin `json:"discovered_via"`
	Depth         int    `json:"depth"`
	Attempts      int    `json:"attempts"`
}

// ArticleRecord is the structured result of extracting one article page.
type ArticleRecord struct {
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Author      string    `json:"author,omitempty"`
	AccountName string    `json:"account_name,omitempty"`
	PublishTime time.Time `json:"publish_time,omitempty"`
	Content     string    `json:"content"`
	Images      []string  `json:"images,omitempty"`
	CoverImage  string    `json:"cover_image,omitempty"`
	ReadCount   int       `json:"read_count"`
	LikeCount   int       `json:"like_count"`
	// RawContentRef points at the archived page snapshot in the blob store.
	RawContentRef string    `json:"raw_content_ref,omitempty"`
	CrawlTime     time.Time `json:"crawl_time"`
	// ExtractedBy names the extraction strategy that produced the record.
	ExtractedBy string `json:"extracted_by,omitempty"`
}

// FetchMode selects the fetch tier.
type FetchMode string

// Fetch tiers. Probe is a plain HTTP fetch; Rendered drives a browser
// session and waits for client-side content.
const (
	FetchProbe    FetchMode = "probe"
	FetchRendered FetchMode = "rendered"
)

// FetchRequest captures everything needed to fetch one URL.
type FetchRequest struct {
	JobID   string
	URL     string
	Mode    FetchMode
	Session *SessionHandle
	// WaitSelector, when set, is the content-ready marker the rendered
	// fetch waits for instead of a fixed sleep.
	WaitSelector string
	// ScrollRounds asks the rendered fetch to perform bounded
	// scroll-to-bottom rounds to trigger lazy loading.
	ScrollRounds int
	Timeout      time.Duration
}

// Page is the result of a fetch: final content plus transport metadata.
// Embedded script payloads travel inside Body; the extractor mines them.
type Page struct {
	URL          string
	FinalURL     string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Mode         FetchMode
	FetchedAt    time.Time
	Duration     time.Duration
	SessionID    string
	ProxyID      string
}

// ContentLength returns the body size in bytes.
func (p Page) ContentLength() int {
	return len(p.Body)
}

// FingerprintProfile is the client identity a session presents: mobile
// user agent, viewport, and locale/timezone consistent with it.
type FingerprintProfile struct {
	Name      string `yaml:"name"`
	UserAgent string `yaml:"user_agent"`
	Width     int64  `yaml:"width"`
	Height    int64  `yaml:"height"`
	Locale    string `yaml:"locale"`
	Timezone  string `yaml:"timezone"`
}

// SessionHandle identifies one browser session. A handle serves one
// in-flight fetch at a time and is retired after its request budget or on
// a detection signal.
type SessionHandle struct {
	ContextID    string
	ProxyID      string
	ProxyURL     string
	Fingerprint  FingerprintProfile
	LastUsedAt   time.Time
	RequestCount int

	// AllocatorCtx carries the browser allocator for rendered fetches.
	// It is opaque to everything except the headless fetcher.
	AllocatorCtx any
}

// ProxyHealth is the health state of one proxy identity.
type ProxyHealth string

// Proxy health states. A proxy is blocked only after N consecutive
// failures and is excluded until a cooldown plus one successful probe.
const (
	ProxyHealthy  ProxyHealth = "healthy"
	ProxyDegraded ProxyHealth = "degraded"
	ProxyBlocked  ProxyHealth = "blocked"
)

// ProxyRecord describes one outbound network identity.
type ProxyRecord struct {
	ID                  string      `yaml:"-" json:"id"`
	Address             string      `yaml:"address" json:"address"`
	Username            string      `yaml:"username,omitempty" json:"-"`
	Password            string      `yaml:"password,omitempty" json:"-"`
	Health              ProxyHealth `yaml:"-" json:"health"`
	LastFailureAt       time.Time   `yaml:"-" json:"last_failure_at,omitempty"`
	ConsecutiveFailures int         `yaml:"-" json:"consecutive_failures"`
}

// URL returns the proxy in URL form with credentials embedded, defaulting
// the scheme to http when the address omits one.
func (p ProxyRecord) URL() string {
	addr := p.Address
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	if p.Username == "" {
		return addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return addr
	}
	u.User = url.UserPassword(p.Username, p.Password)
	return u.String()
}

// SessionOutcome tells the pool how a fetch through a session ended.
type SessionOutcome int

// Session release outcomes.
const (
	SessionOK SessionOutcome = iota
	SessionFailed
	SessionDetected
)

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string        `json:"job_id"`
	Params    JobParameters `json:"params"`
	Submitted int64         `json:"submitted"`
}
