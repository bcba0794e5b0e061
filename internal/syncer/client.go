package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/2beens/trainmate/internal/history"
	"github.com/2beens/trainmate/internal/plan"

	log "github.com/sirupsen/logrus"
)

const (
	pushAttempts   = 3
	requestTimeout = 20 * time.Second
)

// CompletionData is the wire payload for one completed exercise, sent to
// the coaching backend so the trainer can follow the trainee's progress.
type CompletionData struct {
	UserID       string            `json:"userId"`
	TrainingType string            `json:"trainingType"`
	ExerciseName string            `json:"exerciseName"`
	Date         time.Time         `json:"date"`
	Weight       *float64          `json:"weight,omitempty"`
	Repeats      *int              `json:"repeats,omitempty"`
	RestTime     int               `json:"restTime"`
	SetsData     []history.SetData `json:"setsData,omitempty"`
	Completed    bool              `json:"completed"`
}

type plansResponse struct {
	Plans []plan.TrainingPlan `json:"plans"`
}

// Client talks to the coaching backend HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

// FetchPlans retrieves all training plans published for this user.
func (c *Client) FetchPlans(ctx context.Context) ([]plan.TrainingPlan, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/plans", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get plans: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Errorf("fetch plans, close response body: %s", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("get plans: status %d: %s", resp.StatusCode, string(body))
	}

	var plansResp plansResponse
	if err := json.NewDecoder(resp.Body).Decode(&plansResp); err != nil {
		return nil, fmt.Errorf("decode plans response: %w", err)
	}
	return plansResp.Plans, nil
}

// PushExercise uploads one completed exercise. Transient failures are
// retried with exponential backoff before giving up.
func (c *Client) PushExercise(ctx context.Context, data CompletionData) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal completion data: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= pushAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(1<<uint(attempt-2)) * time.Second):
			}
		}

		lastErr = c.pushOnce(ctx, payload)
		if lastErr == nil {
			return nil
		}
		log.Warnf("push exercise [%s], attempt %d/%d failed: %s",
			data.ExerciseName, attempt, pushAttempts, lastErr)
	}
	return fmt.Errorf("push exercise after %d attempts: %w", pushAttempts, lastErr)
}

func (c *Client) pushOnce(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost,
		c.baseURL+"/api/v1/userdata",
		bytes.NewReader(payload),
	)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Errorf("push exercise, close response body: %s", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "trainmate-client")
	if c.apiKey != "" {
		req.Header.Set("X-Trainmate-Api-Key", c.apiKey)
	}
}
