package viewer

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// ArtifactScheme prefixes attribute values that reference an artifact.
const ArtifactScheme = "artifact://"

// ArtifactResolver turns an artifact id into a download URL.
type ArtifactResolver func(artifactID string) (string, error)

// URLResolver resolves artifact ids against the artifact download endpoint.
// Ids must be UUIDs.
func URLResolver(baseURL string) ArtifactResolver {
	base := strings.TrimSuffix(baseURL, "/")
	return func(artifactID string) (string, error) {
		if _, err := uuid.Parse(artifactID); err != nil {
			return "", fmt.Errorf("malformed artifact id %q: %w", artifactID, err)
		}
		return fmt.Sprintf("%s/artifacts/%s/download", base, url.PathEscape(artifactID)), nil
	}
}

func safeResolve(resolve ArtifactResolver, id string) (u string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("artifact resolver panic: %v", r)
		}
	}()
	return resolve(id)
}

func isArtifactKey(key string) bool {
	switch key {
	case "artifact_id", "artifact.id", "artifact_ids", "artifact.ids":
		return true
	}
	return strings.HasSuffix(key, ".artifact_id")
}

func collectArtifactIDs(attrs map[string]any, into map[string]struct{}) {
	for k, v := range attrs {
		byKey := isArtifactKey(k)
		switch val := v.(type) {
		case string:
			addArtifactRef(val, byKey, into)
		case []string:
			for _, s := range val {
				addArtifactRef(s, byKey, into)
			}
		case []any:
			for _, item := range val {
				if s, ok := item.(string); ok {
					addArtifactRef(s, byKey, into)
				}
			}
		}
	}
}

func addArtifactRef(val string, byKey bool, into map[string]struct{}) {
	val = strings.TrimSpace(val)
	switch {
	case strings.HasPrefix(val, ArtifactScheme):
		if id := strings.TrimPrefix(val, ArtifactScheme); id != "" {
			into[id] = struct{}{}
		}
	case byKey && val != "":
		into[val] = struct{}{}
	}
}
