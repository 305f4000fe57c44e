package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/blues/greensalary/internal/apperr"
)

// ScoreRequest is the body posted to the scoring service.
type ScoreRequest struct {
	ContractTitle  string   `json:"contract_title"`
	InfluencerName string   `json:"influencer_name"`
	SiteUrl        string   `json:"site_url"`
	ImageUrl       string   `json:"image_url"`
	Keywords       []string `json:"keywords"`
	Conditions     []string `json:"conditions"`
	MediaText      int      `json:"media_text"`
	MediaImage     int      `json:"media_image"`
}

type Verdict struct {
	KeywordTest    bool   `json:"keywordTest"`
	ConditionTest  bool   `json:"conditionTest"`
	WordCountTest  bool   `json:"wordCountTest"`
	ImageCountTest bool   `json:"imageCountTest"`
	PdfUrl         string `json:"pdf_url"`
}

func (v *Verdict) AllPassed() bool {
	return v.KeywordTest && v.ConditionTest && v.WordCountTest && v.ImageCountTest
}

// Scorer scores a submitted post.
type Scorer interface {
	Score(ctx context.Context, req ScoreRequest) (*Verdict, error)
}

const maxVerdictBytes = 1 << 20

type HTTPScorer struct {
	endpoint   string
	timeout    time.Duration
	httpClient *http.Client
}

func NewHTTPScorer(endpoint string, timeout time.Duration) *HTTPScorer {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &HTTPScorer{endpoint: endpoint, timeout: timeout, httpClient: &http.Client{}}
}

func (s *HTTPScorer) Score(ctx context.Context, in ScoreRequest) (*Verdict, error) {
	if s.endpoint == "" {
		return nil, errors.New("analysis endpoint not configured")
	}
	if in.Keywords == nil {
		in.Keywords = []string{}
	}
	if in.Conditions == nil {
		in.Conditions = []string{}
	}

	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encoding score request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: scorer did not answer within %s", apperr.ErrExternalTimeout, s.timeout)
		}
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(msg))
	}

	var v Verdict
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxVerdictBytes)).Decode(&v); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: scorer did not answer within %s", apperr.ErrExternalTimeout, s.timeout)
		}
		return nil, fmt.Errorf("decoding verdict: %w", err)
	}
	return &v, nil
}
