package readme

import (
	"strings"

	"github.com/go-git/go-git/v5"

	"github.com/obentoo/bucketkit/internal/common/github"
	"github.com/obentoo/bucketkit/internal/common/logger"
)

// PlaceholderRepository is used when the repository cannot be determined
const PlaceholderRepository = "OWNER/REPOSITORY"

// EnvRepository is set by GitHub Actions to "owner/name"
const EnvRepository = "GITHUB_REPOSITORY"

// DetectRepository returns the "owner/name" of the bucket repository: from
// GITHUB_REPOSITORY, else from the origin remote of the git repository
// enclosing dir, else PlaceholderRepository.
func DetectRepository(getenv func(string) string, dir string) string {
	if v := strings.TrimSpace(getenv(EnvRepository)); v != "" {
		if owner, name, err := github.ParseRepository(v); err == nil {
			return owner + "/" + name
		}
		logger.Warn("Ignoring malformed %s=%q", EnvRepository, v)
	}

	if repo, ok := originRepository(dir); ok {
		return repo
	}

	logger.Debug("Repository address unknown, using placeholder")
	return PlaceholderRepository
}

func originRepository(dir string) (string, bool) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		logger.Debug("No git repository at %s: %v", dir, err)
		return "", false
	}

	remote, err := repo.Remote("origin")
	if err != nil {
		logger.Debug("No origin remote: %v", err)
		return "", false
	}

	for _, url := range remote.Config().URLs {
		if owner, name, err := github.ParseRepository(url); err == nil {
			return owner + "/" + name, true
		}
	}
	return "", false
}
