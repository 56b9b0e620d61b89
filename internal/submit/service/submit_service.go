package service

import (
	"context"

	"judgeflow/internal/common/queue"
	"judgeflow/internal/job"
	appErr "judgeflow/pkg/errors"
	"judgeflow/pkg/utils/logger"

	"go.uber.org/zap"
)

// MaxSourceBytes bounds submitted source size.
const MaxSourceBytes = 256 << 10

// SubmitService mints tokens and hands jobs to the queue. It never waits
// for execution; the result travels back over the token's channel.
type SubmitService struct {
	producer queue.Producer
}

// NewSubmitService creates a new SubmitService.
func NewSubmitService(producer queue.Producer) *SubmitService {
	return &SubmitService{producer: producer}
}

// SubmitInput carries one enqueue request.
type SubmitInput struct {
	SourceCode     string
	LanguageID     int
	Stdin          string
	ExpectedOutput string
	ProblemID      int64
	IsSubmission   bool
}

// SubmitOutput is the immediate enqueue response. The token is the client's
// subscription capability; the job id is queue-internal.
type SubmitOutput struct {
	Token string
	JobID string
}

// Submit validates the input, mints a fresh token and enqueues the job.
// A caller retry after a network failure enqueues a second job under a new
// token; no deduplication happens here.
func (s *SubmitService) Submit(ctx context.Context, in SubmitInput) (SubmitOutput, error) {
	if in.SourceCode == "" {
		return SubmitOutput{}, appErr.ValidationError("source_code", "required")
	}
	if len(in.SourceCode) > MaxSourceBytes {
		return SubmitOutput{}, appErr.New(appErr.CodeTooLarge)
	}
	if in.LanguageID <= 0 {
		return SubmitOutput{}, appErr.New(appErr.LanguageNotSupported)
	}

	j := &job.Job{
		Token:          job.NewToken(),
		SourceCode:     in.SourceCode,
		LanguageID:     in.LanguageID,
		Stdin:          in.Stdin,
		ExpectedOutput: in.ExpectedOutput,
		ProblemID:      in.ProblemID,
		IsSubmission:   in.IsSubmission,
	}
	jobID, err := s.producer.Enqueue(ctx, j)
	if err != nil {
		return SubmitOutput{}, err
	}

	logger.Info(ctx, "job enqueued",
		zap.String("token", j.Token),
		zap.String("job_id", jobID),
		zap.Int("language_id", j.LanguageID),
		zap.Bool("is_submission", j.IsSubmission),
	)
	return SubmitOutput{Token: j.Token, JobID: jobID}, nil
}
