package inmemdb_test

import (
	"testing"

	inmemdb "github.com/trezcool/darasa/storage/database/inmem"
	"github.com/trezcool/darasa/storage/database/repotest"
)

func TestRepositories(t *testing.T) {
	repotest.Run(t, func(t *testing.T) repotest.Repos {
		db := inmemdb.Open()
		return repotest.Repos{
			Users:    inmemdb.NewUserRepository(db),
			Classes:  inmemdb.NewClassroomRepository(db),
			Feedback: inmemdb.NewFeedbackRepository(db),
		}
	})
}
