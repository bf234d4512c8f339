package refurblinesdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client is a minimal Refurbline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	Timeout     time.Duration

	rc *resty.Client
}

// New creates a client with sane defaults. baseURL includes the API base
// path, for example http://localhost:8080/v1.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Device represents the API device model (partial).
type Device struct {
	ID              string `json:"id"`
	Barcode         string `json:"barcode"`
	Category        string `json:"category"`
	Brand           string `json:"brand,omitempty"`
	Model           string `json:"model,omitempty"`
	Status          string `json:"status"`
	Grade           string `json:"grade,omitempty"`
	Location        string `json:"location,omitempty"`
	RepairRequired  bool   `json:"repair_required"`
	RepairCompleted bool   `json:"repair_completed"`
}

// CheckResult is one checklist answer.
type CheckResult struct {
	Index  int    `json:"index"`
	Status string `json:"status"`
	Notes  string `json:"notes,omitempty"`
}

// Routing is where inspection sent the device.
type Routing struct {
	DeviceID    string `json:"device_id"`
	NextStatus  string `json:"next_status"`
	RepairJobID string `json:"repair_job_id,omitempty"`
}

// Readiness lists what still blocks QC.
type Readiness struct {
	DeviceID   string   `json:"device_id"`
	Status     string   `json:"status"`
	ReadyForQC bool     `json:"ready_for_qc"`
	Blockers   []string `json:"blockers"`
}

// WorkJob is a specialist's unit of work (partial).
type WorkJob struct {
	ID       string `json:"id"`
	DeviceID string `json:"device_id"`
	Track    string `json:"track"`
	Status   string `json:"status"`
}

// SparesCheck is the result of validating a spares request.
type SparesCheck struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// Verification is a shipment verification result (partial).
type Verification struct {
	Status          string   `json:"status"`
	MatchPercentage float64  `json:"match_percentage"`
	TotalExpected   int      `json:"total_expected"`
	TotalReceived   int      `json:"total_received"`
	Discrepancies   []string `json:"discrepancies"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// WhoAmI is the authenticated caller.
type WhoAmI struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	Source      string   `json:"source"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// RegisterDevice registers a received device.
func (c *Client) RegisterDevice(ctx context.Context, barcode, category, brand, model string) (Device, error) {
	body := map[string]any{
		"barcode":  barcode,
		"category": category,
		"brand":    brand,
		"model":    model,
	}
	var resp Device
	err := c.do(ctx, http.MethodPost, "devices", body, &resp)
	return resp, err
}

// GetDevice fetches a device by id.
func (c *Client) GetDevice(ctx context.Context, id string) (Device, error) {
	var resp Device
	err := c.do(ctx, http.MethodGet, "devices/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// StartInspection moves a received device into inspection.
func (c *Client) StartInspection(ctx context.Context, deviceID string) (Device, error) {
	var resp Device
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("devices/%s/inspection/start", url.PathEscape(deviceID)), nil, &resp)
	return resp, err
}

// SubmitInspection records checklist results and returns the route taken.
func (c *Client) SubmitInspection(ctx context.Context, deviceID string, results []CheckResult, spares string) (Routing, error) {
	body := map[string]any{"results": results}
	if spares != "" {
		body["spares_required"] = spares
	}
	var resp Routing
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("devices/%s/inspection", url.PathEscape(deviceID)), body, &resp)
	return resp, err
}

// Claim makes the caller the device's L2 coordinator and returns the repair job id.
func (c *Client) Claim(ctx context.Context, deviceID string) (string, error) {
	var resp struct {
		RepairJobID string `json:"repair_job_id"`
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("devices/%s/claim", url.PathEscape(deviceID)), nil, &resp)
	return resp.RepairJobID, err
}

// DispatchTrack sends a track to its specialist and returns the work job id.
func (c *Client) DispatchTrack(ctx context.Context, deviceID, track, instructions string) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	endpoint := fmt.Sprintf("devices/%s/tracks/%s/dispatch", url.PathEscape(deviceID), url.PathEscape(track))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"instructions": instructions}, &resp)
	return resp.ID, err
}

// CompleteWorkJob finishes a specialist's job.
func (c *Client) CompleteWorkJob(ctx context.Context, workJobID, notes string) (WorkJob, error) {
	var resp WorkJob
	endpoint := fmt.Sprintf("work-jobs/%s/complete", url.PathEscape(workJobID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"notes": notes}, &resp)
	return resp, err
}

// CollectTrack takes a finished track back and reports QC readiness.
func (c *Client) CollectTrack(ctx context.Context, deviceID, track string) (Readiness, error) {
	var resp Readiness
	endpoint := fmt.Sprintf("devices/%s/tracks/%s/collect", url.PathEscape(deviceID), url.PathEscape(track))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// SendToQC hands a repaired device to QC.
func (c *Client) SendToQC(ctx context.Context, deviceID string) (Device, error) {
	var resp Device
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("devices/%s/send-to-qc", url.PathEscape(deviceID)), nil, &resp)
	return resp, err
}

// SubmitQC records a verdict. grade is ignored on failure.
func (c *Client) SubmitQC(ctx context.Context, deviceID string, passed bool, grade, remarks string) error {
	body := map[string]any{"passed": passed, "remarks": remarks}
	if passed {
		body["grade"] = grade
	}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("devices/%s/qc", url.PathEscape(deviceID)), body, nil)
}

// ValidateSpares checks a free-text request against stock.
func (c *Client) ValidateSpares(ctx context.Context, spares string) (SparesCheck, error) {
	var resp SparesCheck
	err := c.do(ctx, http.MethodPost, "spare-parts/validate", map[string]any{"spares": spares}, &resp)
	return resp, err
}

// IssueSpares issues a request to a repair job, all or nothing.
func (c *Client) IssueSpares(ctx context.Context, repairJobID, spares string) error {
	endpoint := fmt.Sprintf("repair-jobs/%s/spares/issue", url.PathEscape(repairJobID))
	return c.do(ctx, http.MethodPost, endpoint, map[string]any{"spares": spares}, nil)
}

// VerifyBatch reconciles a batch against its purchase order.
func (c *Client) VerifyBatch(ctx context.Context, batchID string) (Verification, error) {
	var resp Verification
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("batches/%s/verify", url.PathEscape(batchID)), nil, &resp)
	return resp, err
}

// Me returns the authenticated caller.
func (c *Client) Me(ctx context.Context) (WhoAmI, error) {
	var resp WhoAmI
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) client() *resty.Client {
	if c.rc == nil {
		c.rc = resty.New().
			SetBaseURL(strings.TrimRight(c.BaseURL, "/")).
			SetTimeout(c.Timeout).
			SetHeader("Content-Type", "application/json")
	}
	return c.rc
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	req := c.client().R().SetContext(ctx)
	switch {
	case c.BearerToken != "":
		req.SetAuthToken(c.BearerToken)
	case c.APIKey != "":
		req.SetHeader("X-Api-Key", c.APIKey)
	}
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, "/"+strings.TrimLeft(endpoint, "/"))
	if err != nil {
		return err
	}
	if resp.StatusCode() >= 300 {
		return decodeError(resp)
	}
	if out != nil && len(resp.Body()) > 0 {
		return json.Unmarshal(resp.Body(), out)
	}
	return nil
}

func decodeError(resp *resty.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode(), Body: resp.String()}
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal(resp.Body(), &env) == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Details = env.Error.Details
	}
	return apiErr
}
