package jobcache

import "context"

// Keys derived from a job id.
func PhonesKey(jobID string) string          { return jobID + "_phones" }
func PersonalisationKey(jobID string) string { return jobID + "_personalisation" }

// Job returns the raw CSV body cached for jobID.
func (c *Cache) Job(ctx context.Context, jobID string) (string, bool) {
	entry, ok := c.Get(ctx, jobID)
	if !ok {
		return "", false
	}
	body, ok := entry.Value.(string)
	return body, ok
}

func (c *Cache) SetJob(jobID, body string) {
	c.Set(jobID, body)
}

// Phones returns the row to phone mapping for jobID. A hit counts; a miss
// does not, since callers then look up the job body.
func (c *Cache) Phones(ctx context.Context, jobID string) (map[int]string, bool) {
	entry, ok := c.lookup(ctx, PhonesKey(jobID), false)
	if !ok {
		return nil, false
	}
	phones, ok := entry.Value.(map[int]string)
	return phones, ok
}

func (c *Cache) SetPhones(jobID string, phones map[int]string) {
	c.Set(PhonesKey(jobID), phones)
}

// Personalisation returns the row to placeholder values mapping for jobID.
// Misses are counted like Phones.
func (c *Cache) Personalisation(ctx context.Context, jobID string) (map[int]map[string]string, bool) {
	entry, ok := c.lookup(ctx, PersonalisationKey(jobID), false)
	if !ok {
		return nil, false
	}
	p, ok := entry.Value.(map[int]map[string]string)
	return p, ok
}

func (c *Cache) SetPersonalisation(jobID string, p map[int]map[string]string) {
	c.Set(PersonalisationKey(jobID), p)
}

// Forget drops the body and both derived lookups for jobID.
func (c *Cache) Forget(jobID string) {
	c.Delete(jobID)
	c.Delete(PhonesKey(jobID))
	c.Delete(PersonalisationKey(jobID))
}
