// Package analysis accepts content URL submissions and scores them out of band
// through the external AI service, writing the verdict back to the
// participation record.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/blues/greensalary/internal/apperr"
	"github.com/blues/greensalary/internal/logger"
	"github.com/blues/greensalary/internal/metrics"
	"github.com/blues/greensalary/internal/model"
	"github.com/blues/greensalary/internal/review"
	"github.com/blues/greensalary/internal/window"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Gateway struct {
	db       *gorm.DB
	scorer   Scorer
	checker  URLChecker
	policy   window.Policy
	prefixes SitePrefixes
	pdfBase  string
	pool     *ants.Pool
	metrics  *metrics.Collector
	now      func() time.Time
	wg       sync.WaitGroup
}

type Options struct {
	Workers      int
	PdfBaseUrl   string
	SitePrefixes map[string]string
	Metrics      *metrics.Collector
	Now          func() time.Time
}

func NewGateway(db *gorm.DB, scorer Scorer, checker URLChecker, policy window.Policy, opts Options) (*Gateway, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = 8
	}
	pool, err := ants.NewPool(workers,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p interface{}) {
			logger.Error("Analysis worker panic: %v", p)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create analysis pool: %w", err)
	}

	g := &Gateway{
		db:       db,
		scorer:   scorer,
		checker:  checker,
		policy:   policy,
		prefixes: NewSitePrefixes(opts.SitePrefixes),
		pdfBase:  strings.TrimRight(opts.PdfBaseUrl, "/"),
		pool:     pool,
		metrics:  opts.Metrics,
		now:      opts.Now,
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g, nil
}

// Submit stores the URL, marks the participation as analyzing and queues the
// scoring job. It returns as soon as the job is queued.
func (g *Gateway) Submit(ctx context.Context, contractId string, influencerId int64, rawURL string) (*model.AnalysisJob, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, apperr.Validation("url is required")
	}

	var contract model.Contract
	if err := g.db.WithContext(ctx).First(&contract, "id = ?", contractId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("contract %s", contractId)
		}
		return nil, fmt.Errorf("failed to load contract %s: %w", contractId, err)
	}

	w := contract.UploadWindow()
	if g.policy.Status(w, g.now()) != window.Active {
		return nil, apperr.Validation("URL can only be submitted between %s and %s",
			g.policy.Local(w.Start).Format("2006-01-02"), g.policy.Local(w.End).Format("2006-01-02"))
	}
	if err := g.prefixes.Validate(contract.Site, rawURL); err != nil {
		return nil, err
	}

	var p model.Participation
	err := g.db.WithContext(ctx).
		Where("contract_id = ? AND influencer_id = ?", contractId, influencerId).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("influencer %d has not joined contract %s", influencerId, contractId)
		}
		return nil, fmt.Errorf("failed to load participation: %w", err)
	}
	if p.RewardPaid {
		return nil, apperr.InvalidTransition("reward already paid for contract %s", contractId)
	}
	if p.AnalysisStatus == model.AnalysisAnalyzing {
		return nil, apperr.Conflict("analysis in progress, try again once it has finished")
	}

	if err := g.checker.Check(ctx, rawURL); err != nil {
		return nil, err
	}

	job := &model.AnalysisJob{
		JobId:           uuid.NewString(),
		ParticipationId: p.Id,
		ContractId:      contractId,
		InfluencerId:    influencerId,
		Url:             rawURL,
		Status:          model.JobProcessing,
	}
	err = g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Participation{}).
			Where("id = ? AND analysis_status <> ? AND reward_paid = ?", p.Id, model.AnalysisAnalyzing, false).
			Updates(map[string]interface{}{
				"url":              rawURL,
				"analysis_status":  model.AnalysisAnalyzing,
				"keyword_test":     false,
				"condition_test":   false,
				"word_count_test":  false,
				"image_count_test": false,
				"pdf_url":          "",
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.Conflict("analysis in progress, try again once it has finished")
		}
		return tx.Create(job).Error
	})
	if err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to record submission: %w", err)
	}

	logger.Info("URL submitted for contract %s by influencer %d, job %s", contractId, influencerId, job.JobId)

	if err := g.enqueue(job.JobId); err != nil {
		g.fail(context.Background(), job.JobId, p.Id, err)
		return nil, apperr.Conflict("analysis queue is full, try again later")
	}
	return job, nil
}

// Recover queues again every participation left analyzing by a previous
// process. Returns the number of jobs queued.
func (g *Gateway) Recover(ctx context.Context) (int, error) {
	var stuck []model.Participation
	if err := g.db.WithContext(ctx).Where("analysis_status = ?", model.AnalysisAnalyzing).Find(&stuck).Error; err != nil {
		return 0, fmt.Errorf("failed to fetch unfinished analyses: %w", err)
	}

	queued := 0
	for _, p := range stuck {
		var job model.AnalysisJob
		err := g.db.WithContext(ctx).
			Where("participation_id = ? AND status = ?", p.Id, model.JobProcessing).
			Order("id desc").
			First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			job = model.AnalysisJob{
				JobId:           uuid.NewString(),
				ParticipationId: p.Id,
				ContractId:      p.ContractId,
				InfluencerId:    p.InfluencerId,
				Url:             p.Url,
				Status:          model.JobProcessing,
			}
			err = g.db.WithContext(ctx).Create(&job).Error
		}
		if err != nil {
			logger.Error("Failed to recover analysis for participation %d: %v", p.Id, err)
			continue
		}
		if err := g.enqueue(job.JobId); err != nil {
			logger.Error("Failed to queue recovered job %s: %v", job.JobId, err)
			continue
		}
		queued++
	}

	if queued > 0 {
		logger.Info("Recovered %d unfinished analyses", queued)
	}
	return queued, nil
}

func (g *Gateway) enqueue(jobId string) error {
	g.wg.Add(1)
	err := g.pool.Submit(func() {
		defer g.wg.Done()
		g.process(context.Background(), jobId)
	})
	if err != nil {
		g.wg.Done()
		return fmt.Errorf("queue job %s: %w", jobId, err)
	}
	return nil
}

// process scores one job. Participation state is always reloaded by id, so a
// record changed or removed since submission is handled here.
func (g *Gateway) process(ctx context.Context, jobId string) {
	log := logger.With(zap.String("job", jobId))

	var job model.AnalysisJob
	if err := g.db.WithContext(ctx).First(&job, "job_id = ?", jobId).Error; err != nil {
		log.Error("Failed to load analysis job: %v", err)
		return
	}

	var p model.Participation
	if err := g.db.WithContext(ctx).First(&p, job.ParticipationId).Error; err != nil {
		g.fail(ctx, jobId, job.ParticipationId, fmt.Errorf("participation %d: %w", job.ParticipationId, err))
		return
	}
	if p.AnalysisStatus != model.AnalysisAnalyzing || p.Url != job.Url {
		g.fail(ctx, jobId, 0, errors.New("superseded by a newer submission"))
		return
	}

	var contract model.Contract
	if err := g.db.WithContext(ctx).First(&contract, "id = ?", p.ContractId).Error; err != nil {
		g.fail(ctx, jobId, p.Id, fmt.Errorf("contract %s: %w", p.ContractId, err))
		return
	}
	var influencer model.Influencer
	if err := g.db.WithContext(ctx).First(&influencer, p.InfluencerId).Error; err != nil {
		log.Warn("Influencer %d not found, scoring without a name", p.InfluencerId)
	}

	verdict, err := g.scorer.Score(ctx, ScoreRequest{
		ContractTitle:  contract.Title,
		InfluencerName: influencer.Name,
		SiteUrl:        p.Url,
		ImageUrl:       contract.PhotoUrl,
		Keywords:       contract.Keywords,
		Conditions:     contract.Conditions,
		MediaText:      contract.MediaText,
		MediaImage:     contract.MediaImage,
	})
	if err != nil {
		g.fail(ctx, jobId, p.Id, err)
		return
	}

	if err := g.complete(ctx, &job, verdict); err != nil {
		g.fail(ctx, jobId, p.Id, err)
		return
	}
	g.metrics.Analysis(metrics.ResultSuccess)
	log.Info("AI analysis completed for participation %d", p.Id)
}

func (g *Gateway) complete(ctx context.Context, job *model.AnalysisJob, v *Verdict) error {
	pdfUrl := ""
	if v.PdfUrl != "" {
		pdfUrl = g.pdfBase + v.PdfUrl
	}

	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p model.Participation
		if err := tx.First(&p, job.ParticipationId).Error; err != nil {
			return err
		}

		updates := map[string]interface{}{
			"keyword_test":     v.KeywordTest,
			"condition_test":   v.ConditionTest,
			"word_count_test":  v.WordCountTest,
			"image_count_test": v.ImageCountTest,
			"pdf_url":          pdfUrl,
			"analysis_status":  model.AnalysisCompleted,
		}
		next, err := review.Transition(review.AIVerdict, review.Input{
			Current:        p.ReviewStatus,
			RewardPaid:     p.RewardPaid,
			AllTestsPassed: v.AllPassed(),
		})
		if err != nil {
			logger.Warn("Keeping review status %s for participation %d: %v", p.ReviewStatus, p.Id, err)
		} else {
			updates["review_status"] = next
		}

		res := tx.Model(&model.Participation{}).
			Where("id = ? AND analysis_status = ?", p.Id, model.AnalysisAnalyzing).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errors.New("participation is no longer being analyzed")
		}

		return tx.Model(&model.AnalysisJob{}).Where("job_id = ?", job.JobId).Updates(map[string]interface{}{
			"status":           model.JobCompleted,
			"keyword_test":     v.KeywordTest,
			"condition_test":   v.ConditionTest,
			"word_count_test":  v.WordCountTest,
			"image_count_test": v.ImageCountTest,
			"pdf_url":          pdfUrl,
		}).Error
	})
}

// fail records the error on the job and, when participationId is set, marks
// the analysis failed. The review status is left alone.
func (g *Gateway) fail(ctx context.Context, jobId string, participationId int64, cause error) {
	g.metrics.Analysis(metrics.ResultFailed)
	logger.Error("AI analysis job %s failed: %v", jobId, cause)

	err := g.db.WithContext(ctx).Model(&model.AnalysisJob{}).Where("job_id = ?", jobId).Updates(map[string]interface{}{
		"status":        model.JobFailed,
		"error_message": cause.Error(),
	}).Error
	if err != nil {
		logger.Error("Failed to record job %s failure: %v", jobId, err)
	}
	if participationId == 0 {
		return
	}
	err = g.db.WithContext(ctx).Model(&model.Participation{}).
		Where("id = ? AND analysis_status = ?", participationId, model.AnalysisAnalyzing).
		Update("analysis_status", model.AnalysisFailed).Error
	if err != nil {
		logger.Error("Failed to mark participation %d analysis failed: %v", participationId, err)
	}
}

// Job returns the latest analysis job for a participation.
func (g *Gateway) Job(ctx context.Context, participationId int64) (*model.AnalysisJob, error) {
	var job model.AnalysisJob
	err := g.db.WithContext(ctx).Where("participation_id = ?", participationId).Order("id desc").First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("no analysis for participation %d", participationId)
		}
		return nil, err
	}
	return &job, nil
}

// Close waits up to timeout for queued jobs and releases the pool.
func (g *Gateway) Close(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		logger.Warn("Analysis jobs still running at shutdown")
	}
	g.pool.Release()
}
