package s3

import (
	"fmt"
	"strings"
)

const (
	keyPrefix = "service-"
	keyFolder = "-notify"
	keySuffix = ".csv"
)

// JobObjectKey is where a service's job CSV lives in the bucket.
func JobObjectKey(serviceID, jobID string) string {
	return fmt.Sprintf("service-%s-notify/%s.csv", serviceID, jobID)
}

// ParseObjectKey splits service-{service_id}-notify/{job_id}.csv.
func ParseObjectKey(key string) (serviceID, jobID string, err error) {
	folder, file, ok := strings.Cut(key, "/")
	if !ok || strings.Contains(file, "/") {
		return "", "", fmt.Errorf("malformed job object key %q", key)
	}
	if !strings.HasPrefix(folder, keyPrefix) || !strings.HasSuffix(folder, keyFolder) {
		return "", "", fmt.Errorf("malformed job object key %q", key)
	}

	serviceID = strings.TrimSuffix(strings.TrimPrefix(folder, keyPrefix), keyFolder)
	jobID = strings.TrimSuffix(file, keySuffix)
	if serviceID == "" || jobID == "" || jobID == file {
		return "", "", fmt.Errorf("malformed job object key %q", key)
	}
	return serviceID, jobID, nil
}

// JobIDFromObjectKey returns the job id from a job object key.
func JobIDFromObjectKey(key string) (string, bool) {
	_, jobID, err := ParseObjectKey(key)
	if err != nil {
		return "", false
	}
	return jobID, true
}
