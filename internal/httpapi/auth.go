package httpapi

import (
	"context"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"errwatch/internal/model"
	"errwatch/internal/store"
)

// authenticateProject resolves projectID and validates the bearer
// credential against the project's stored hash. It returns nil
// (without error) when the credential does not match, so the caller
// can respond with a uniform 401 rather than leaking which part of
// the check failed.
func authenticateProject(ctx context.Context, projects store.ProjectStore, projectID, authHeader string) (*model.Project, error) {
	credential := extractBearer(authHeader)
	if credential == "" {
		return nil, nil
	}

	project, err := projects.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, nil
	}
	if bcrypt.CompareHashAndPassword([]byte(project.CredentialHash), []byte(credential)) != nil {
		return nil, nil
	}
	return project, nil
}

func extractBearer(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}
	return ""
}
