package s3

import (
	"context"

	"go.uber.org/zap"

	"github.com/lalithlochan/notify/internal/csvjob"
)

// job returns the CSV body for jobID from the cache, fetching and caching it
// on a miss.
func (g *Gateway) job(ctx context.Context, serviceID, jobID string) (string, bool) {
	if body, ok := g.cache.Job(ctx, jobID); ok {
		return body, true
	}

	body, ok := g.GetJob(ctx, serviceID, jobID)
	if !ok {
		return "", false
	}
	g.cache.SetJob(jobID, body)
	return body, true
}

// PhoneNumber returns the recipient on row of a job, or csvjob.Unavailable.
func (g *Gateway) PhoneNumber(ctx context.Context, serviceID, jobID string, row int) string {
	phones, ok := g.cache.Phones(ctx, jobID)
	if !ok {
		body, found := g.job(ctx, serviceID, jobID)
		if !found {
			g.logger.Error("job not available, cannot resolve phone number",
				zap.String("job_id", jobID),
				zap.Int("row", row),
			)
			return csvjob.Unavailable
		}
		phones = g.extractor.ExtractPhones(body)
		g.cache.SetPhones(jobID, phones)
	}

	phone := phones[row]
	if phone == "" {
		g.logger.Warn("no phone number for job row",
			zap.String("job_id", jobID),
			zap.Int("row", row),
		)
		return csvjob.Unavailable
	}
	return phone
}

// Personalisation returns the placeholder values on row of a job. It returns
// false when the job or the row cannot be found.
func (g *Gateway) Personalisation(ctx context.Context, serviceID, jobID string, row int) (map[string]string, bool) {
	all, ok := g.cache.Personalisation(ctx, jobID)
	if !ok {
		body, found := g.job(ctx, serviceID, jobID)
		if !found {
			return map[string]string{}, false
		}
		all = g.extractor.ExtractPersonalisation(body)
		g.cache.SetPersonalisation(jobID, all)
	}

	values, ok := all[row]
	if !ok {
		g.logger.Warn("no personalisation for job row",
			zap.String("job_id", jobID),
			zap.Int("row", row),
		)
		return map[string]string{}, false
	}
	return values, true
}
