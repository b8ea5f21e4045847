// Package gitinfo reads branch and version information from the project's git repository.
package gitinfo

import (
	"github.com/Masterminds/semver/v3"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/rotisserie/eris"
)

// Repository wraps the git repository containing the project.
type Repository struct {
	repo *git.Repository
}

// Open finds the repository containing path.
func Open(path string) (*Repository, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, eris.Wrapf(err, "failed to open git repository at %s", path)
	}

	return &Repository{repo: repo}, nil
}

// Branch returns the checked out branch. It returns an empty string for a detached HEAD.
func (r *Repository) Branch() (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", eris.Wrap(err, "failed to resolve HEAD")
	}

	if !head.Name().IsBranch() {
		return "", nil
	}
	return head.Name().Short(), nil
}

// versionTags maps commits to the highest version tag pointing at them. Tags that don't parse
// as semantic versions are ignored.
func (r *Repository) versionTags() (map[plumbing.Hash]*semver.Version, error) {
	tags, err := r.repo.Tags()
	if err != nil {
		return nil, eris.Wrap(err, "failed to list tags")
	}

	result := make(map[plumbing.Hash]*semver.Version)
	err = tags.ForEach(func(ref *plumbing.Reference) error {
		version, err := semver.NewVersion(ref.Name().Short())
		if err != nil {
			return nil
		}

		hash := ref.Hash()
		tag, err := r.repo.TagObject(hash)
		switch err {
		case nil:
			commit, err := tag.Commit()
			if err != nil {
				// annotated tags may point at trees or blobs
				return nil
			}
			hash = commit.Hash
		case plumbing.ErrObjectNotFound:
			// lightweight tag
		default:
			return eris.Wrapf(err, "failed to read tag %s", ref.Name().Short())
		}

		if existing, ok := result[hash]; !ok || version.GreaterThan(existing) {
			result[hash] = version
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Describe derives the version of HEAD. The nearest version tag on the first-parent history
// provides the base; commits reachable from HEAD but not from that tag are counted. Without a
// version tag, fallback is the base and every commit counts.
func (r *Repository) Describe(fallback *semver.Version, label string) (Version, error) {
	head, err := r.repo.Head()
	if err != nil {
		return Version{}, eris.Wrap(err, "failed to resolve HEAD")
	}

	headCommit, err := r.repo.CommitObject(head.Hash())
	if err != nil {
		return Version{}, eris.Wrap(err, "failed to read the HEAD commit")
	}

	tags, err := r.versionTags()
	if err != nil {
		return Version{}, err
	}

	version := Version{
		Base:  fallback,
		Sha:   head.Hash().String(),
		Label: label,
	}

	var tagCommit *object.Commit
	for commit := headCommit; commit != nil; {
		if base, ok := tags[commit.Hash]; ok {
			version.Base = base
			tagCommit = commit
			break
		}

		if commit.NumParents() == 0 {
			break
		}

		commit, err = commit.Parent(0)
		if err != nil {
			return Version{}, eris.Wrap(err, "failed to walk the commit history")
		}
	}

	seen := make(map[plumbing.Hash]bool)
	if tagCommit != nil {
		err = object.NewCommitPreorderIter(tagCommit, nil, nil).ForEach(func(c *object.Commit) error {
			seen[c.Hash] = true
			return nil
		})
		if err != nil {
			return Version{}, eris.Wrap(err, "failed to walk the tagged history")
		}
	}

	err = object.NewCommitPreorderIter(headCommit, seen, nil).ForEach(func(c *object.Commit) error {
		version.CommitsSinceTag++
		return nil
	})
	if err != nil {
		return Version{}, eris.Wrap(err, "failed to count commits")
	}

	return version, nil
}
