package inmemdb

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/trezcool/darasa/core/classroom"
)

type classroomRepository struct {
	db *DB
}

var _ classroom.Repository = (*classroomRepository)(nil)

func NewClassroomRepository(db *DB) classroom.Repository {
	return &classroomRepository{db: db}
}

// =========================================================================
// Classes

func (repo *classroomRepository) CreateClass(_ context.Context, cls classroom.Class) (classroom.Class, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	cls.ID = uuid.NewString()
	c := cls
	repo.db.classes = append(repo.db.classes, &c)
	return cls, nil
}

func (repo *classroomRepository) GetClass(_ context.Context, id string) (classroom.Class, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if cls, ok := lo.Find(repo.db.classes, func(c *classroom.Class) bool { return c.ID == id }); ok {
		return *cls, nil
	}
	return classroom.Class{}, classroom.ErrClassNotFound
}

func (repo *classroomRepository) QueryClasses(_ context.Context, filter classroom.ClassFilter) ([]classroom.Class, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	ids := lo.SliceToMap(filter.IDs, func(id string) (string, bool) { return id, true })
	classes := make([]classroom.Class, 0)
	for _, cls := range repo.db.classes {
		if filter.OwnerID != "" && cls.OwnerID != filter.OwnerID {
			continue
		}
		if filter.IDs != nil && !ids[cls.ID] {
			continue
		}
		classes = append(classes, *cls)
	}
	// newest first
	sort.SliceStable(classes, func(i, j int) bool { return classes[i].CreatedAt.After(classes[j].CreatedAt) })
	return classes, nil
}

func (repo *classroomRepository) UpdateClass(_ context.Context, cls classroom.Class) (classroom.Class, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	orig, ok := lo.Find(repo.db.classes, func(c *classroom.Class) bool { return c.ID == cls.ID })
	if !ok {
		return classroom.Class{}, classroom.ErrClassNotFound
	}
	orig.Name = cls.Name
	orig.Description = cls.Description
	orig.UpdatedAt = cls.UpdatedAt
	return *orig, nil
}

func (repo *classroomRepository) DeleteClass(_ context.Context, id string) (classroom.Cascade, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := lo.Find(repo.db.classes, func(c *classroom.Class) bool { return c.ID == id }); !ok {
		return classroom.Cascade{}, classroom.ErrClassNotFound
	}

	var cascade classroom.Cascade
	asgmtIDs := make(map[string]bool)
	repo.db.assignments = lo.Reject(repo.db.assignments, func(a *classroom.Assignment, _ int) bool {
		if a.ClassID == id {
			asgmtIDs[a.ID] = true
			cascade.Assignments++
			return true
		}
		return false
	})
	repo.db.submissions = lo.Reject(repo.db.submissions, func(s *classroom.Submission, _ int) bool {
		if asgmtIDs[s.AssignmentID] {
			cascade.Submissions = append(cascade.Submissions, *s)
			return true
		}
		return false
	})
	repo.db.enrollments = lo.Reject(repo.db.enrollments, func(e classroom.Enrollment, _ int) bool {
		if e.ClassID == id {
			cascade.Enrollments++
			return true
		}
		return false
	})
	for _, row := range repo.db.users {
		row.legacyClasses = lo.Without(row.legacyClasses, id)
	}
	repo.db.classes = lo.Reject(repo.db.classes, func(c *classroom.Class, _ int) bool { return c.ID == id })
	return cascade, nil
}

// =========================================================================
// Enrollments

func (repo *classroomRepository) UpsertEnrollment(_ context.Context, enr classroom.Enrollment) (classroom.Enrollment, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := lo.Find(repo.db.classes, func(c *classroom.Class) bool { return c.ID == enr.ClassID }); !ok {
		return classroom.Enrollment{}, classroom.ErrClassNotFound
	}
	if existing, ok := lo.Find(repo.db.enrollments, func(e classroom.Enrollment) bool {
		return e.ClassID == enr.ClassID && e.StudentID == enr.StudentID
	}); ok {
		return existing, nil
	}
	repo.db.enrollments = append(repo.db.enrollments, enr)
	return enr, nil
}

func (repo *classroomRepository) GetEnrollment(_ context.Context, classID, studentID string) (classroom.Enrollment, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if enr, ok := lo.Find(repo.db.enrollments, func(e classroom.Enrollment) bool {
		return e.ClassID == classID && e.StudentID == studentID
	}); ok {
		return enr, nil
	}
	return classroom.Enrollment{}, classroom.ErrEnrollmentNotFound
}

func (repo *classroomRepository) QueryEnrollments(_ context.Context, filter classroom.EnrollmentFilter) ([]classroom.Enrollment, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	enrs := lo.Filter(repo.db.enrollments, func(e classroom.Enrollment, _ int) bool {
		return (filter.ClassID == "" || e.ClassID == filter.ClassID) &&
			(filter.StudentID == "" || e.StudentID == filter.StudentID)
	})
	sort.SliceStable(enrs, func(i, j int) bool { return enrs[i].JoinedAt.Before(enrs[j].JoinedAt) })
	return enrs, nil
}

// =========================================================================
// Assignments

func (repo *classroomRepository) CreateAssignment(_ context.Context, asgmt classroom.Assignment) (classroom.Assignment, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := lo.Find(repo.db.classes, func(c *classroom.Class) bool { return c.ID == asgmt.ClassID }); !ok {
		return classroom.Assignment{}, classroom.ErrClassNotFound
	}
	asgmt.ID = uuid.NewString()
	a := asgmt
	repo.db.assignments = append(repo.db.assignments, &a)
	return asgmt, nil
}

func (repo *classroomRepository) GetAssignment(_ context.Context, id string) (classroom.Assignment, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if asgmt, ok := lo.Find(repo.db.assignments, func(a *classroom.Assignment) bool { return a.ID == id }); ok {
		return *asgmt, nil
	}
	return classroom.Assignment{}, classroom.ErrAssignmentNotFound
}

func (repo *classroomRepository) QueryAssignments(_ context.Context, classID string) ([]classroom.Assignment, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	asgmts := make([]classroom.Assignment, 0)
	for _, a := range repo.db.assignments {
		if a.ClassID == classID {
			asgmts = append(asgmts, *a)
		}
	}
	// newest first
	sort.SliceStable(asgmts, func(i, j int) bool { return asgmts[i].CreatedAt.After(asgmts[j].CreatedAt) })
	return asgmts, nil
}

func (repo *classroomRepository) UpdateAssignment(_ context.Context, asgmt classroom.Assignment) (classroom.Assignment, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	orig, ok := lo.Find(repo.db.assignments, func(a *classroom.Assignment) bool { return a.ID == asgmt.ID })
	if !ok {
		return classroom.Assignment{}, classroom.ErrAssignmentNotFound
	}
	orig.Title = asgmt.Title
	orig.Description = asgmt.Description
	orig.DueDate = asgmt.DueDate
	return *orig, nil
}

func (repo *classroomRepository) DeleteAssignment(_ context.Context, id string) (classroom.Cascade, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := lo.Find(repo.db.assignments, func(a *classroom.Assignment) bool { return a.ID == id }); !ok {
		return classroom.Cascade{}, classroom.ErrAssignmentNotFound
	}

	cascade := classroom.Cascade{Assignments: 1}
	repo.db.submissions = lo.Reject(repo.db.submissions, func(s *classroom.Submission, _ int) bool {
		if s.AssignmentID == id {
			cascade.Submissions = append(cascade.Submissions, *s)
			return true
		}
		return false
	})
	repo.db.assignments = lo.Reject(repo.db.assignments, func(a *classroom.Assignment, _ int) bool { return a.ID == id })
	return cascade, nil
}

// =========================================================================
// Submissions

func (repo *classroomRepository) CreateSubmission(_ context.Context, sub classroom.Submission) (classroom.Submission, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := lo.Find(repo.db.assignments, func(a *classroom.Assignment) bool { return a.ID == sub.AssignmentID }); !ok {
		return classroom.Submission{}, classroom.ErrAssignmentNotFound
	}
	sub.ID = uuid.NewString()
	s := sub
	repo.db.submissions = append(repo.db.submissions, &s)
	return sub, nil
}

func (repo *classroomRepository) GetSubmission(_ context.Context, id string) (classroom.Submission, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if sub, ok := lo.Find(repo.db.submissions, func(s *classroom.Submission) bool { return s.ID == id }); ok {
		return copySubmission(*sub), nil
	}
	return classroom.Submission{}, classroom.ErrSubmissionNotFound
}

func (repo *classroomRepository) QuerySubmissions(_ context.Context, filter classroom.SubmissionFilter) ([]classroom.Submission, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	asgmtIDs := lo.SliceToMap(filter.AssignmentIDs, func(id string) (string, bool) { return id, true })
	studentIDs := lo.SliceToMap(filter.StudentIDs, func(id string) (string, bool) { return id, true })

	subs := make([]classroom.Submission, 0)
	for _, s := range repo.db.submissions {
		if len(asgmtIDs) > 0 && !asgmtIDs[s.AssignmentID] {
			continue
		}
		if len(studentIDs) > 0 && !studentIDs[s.StudentID] {
			continue
		}
		subs = append(subs, copySubmission(*s))
	}
	return subs, nil
}

func (repo *classroomRepository) SetMarks(_ context.Context, assignmentID, studentID string, marks int) (int, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	var n int
	for _, s := range repo.db.submissions {
		if s.AssignmentID == assignmentID && s.StudentID == studentID {
			m := marks
			s.Marks = &m
			n++
		}
	}
	return n, nil
}

// copySubmission detaches the marks pointer from the stored row.
func copySubmission(s classroom.Submission) classroom.Submission {
	if s.Marks != nil {
		m := *s.Marks
		s.Marks = &m
	}
	return s
}
