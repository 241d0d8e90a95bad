package sqlxrepos

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/darasa/core/classroom"
)

const submissionColumns = "id, assignment_id, student_id, filename, file_path, marks, created_at"

type (
	classRow struct {
		ID          string    `db:"id"`
		Name        string    `db:"name"`
		Description string    `db:"description"`
		OwnerID     string    `db:"owner_id"`
		OwnerName   string    `db:"owner_name"`
		CreatedAt   time.Time `db:"created_at"`
		UpdatedAt   time.Time `db:"updated_at"`
	}

	enrollmentRow struct {
		StudentID string    `db:"student_id"`
		ClassID   string    `db:"class_id"`
		JoinedAt  time.Time `db:"joined_at"`
	}

	assignmentRow struct {
		ID          string    `db:"id"`
		ClassID     string    `db:"class_id"`
		Title       string    `db:"title"`
		Description string    `db:"description"`
		DueDate     string    `db:"due_date"`
		CreatedAt   time.Time `db:"created_at"`
	}

	submissionRow struct {
		ID           string    `db:"id"`
		AssignmentID string    `db:"assignment_id"`
		StudentID    string    `db:"student_id"`
		Filename     string    `db:"filename"`
		FilePath     string    `db:"file_path"`
		Marks        null.Int  `db:"marks"`
		CreatedAt    time.Time `db:"created_at"`
	}
)

func (r classRow) class() classroom.Class {
	return classroom.Class{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		OwnerID:     r.OwnerID,
		OwnerName:   r.OwnerName,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

func (r enrollmentRow) enrollment() classroom.Enrollment {
	return classroom.Enrollment{StudentID: r.StudentID, ClassID: r.ClassID, JoinedAt: r.JoinedAt.UTC()}
}

func (r assignmentRow) assignment() classroom.Assignment {
	return classroom.Assignment{
		ID:          r.ID,
		ClassID:     r.ClassID,
		Title:       r.Title,
		Description: r.Description,
		DueDate:     r.DueDate,
		CreatedAt:   r.CreatedAt.UTC(),
	}
}

func (r submissionRow) submission() classroom.Submission {
	sub := classroom.Submission{
		ID:           r.ID,
		AssignmentID: r.AssignmentID,
		StudentID:    r.StudentID,
		Filename:     r.Filename,
		FilePath:     r.FilePath,
		CreatedAt:    r.CreatedAt.UTC(),
	}
	if r.Marks.Valid {
		m := r.Marks.Int
		sub.Marks = &m
	}
	return sub
}

func submissionsFromRows(rows []submissionRow) []classroom.Submission {
	subs := make([]classroom.Submission, 0, len(rows))
	for _, r := range rows {
		subs = append(subs, r.submission())
	}
	return subs
}

type classroomRepository struct {
	db *sqlx.DB
}

var _ classroom.Repository = (*classroomRepository)(nil) // interface compliance check

func NewClassroomRepository(db *sqlx.DB) classroom.Repository {
	return &classroomRepository{db: db}
}

// =========================================================================
// Classes

func (repo *classroomRepository) CreateClass(ctx context.Context, cls classroom.Class) (classroom.Class, error) {
	cls.ID = uuid.NewString()
	_, err := repo.db.ExecContext(ctx, `
		INSERT INTO classes (id, name, description, owner_id, owner_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		cls.ID, cls.Name, cls.Description, cls.OwnerID, cls.OwnerName, cls.CreatedAt.UTC(), cls.UpdatedAt.UTC(),
	)
	if err != nil {
		return classroom.Class{}, errors.Wrap(err, "inserting class")
	}
	return cls, nil
}

func (repo *classroomRepository) GetClass(ctx context.Context, id string) (classroom.Class, error) {
	var row classRow
	if err := repo.db.GetContext(ctx, &row, "SELECT * FROM classes WHERE id = $1", id); err != nil {
		return classroom.Class{}, trapNoRowsErr(err, classroom.ErrClassNotFound, "selecting class")
	}
	return row.class(), nil
}

func (repo *classroomRepository) QueryClasses(ctx context.Context, filter classroom.ClassFilter) ([]classroom.Class, error) {
	if filter.IDs != nil && len(filter.IDs) == 0 {
		return []classroom.Class{}, nil
	}

	var (
		where []string
		args  []interface{}
	)
	if filter.IDs != nil {
		where = append(where, "id IN (?)")
		args = append(args, filter.IDs)
	}
	if filter.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	query := "SELECT * FROM classes"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"

	var rows []classRow
	if err := selectIn(ctx, repo.db, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "selecting classes")
	}
	classes := make([]classroom.Class, 0, len(rows))
	for _, r := range rows {
		classes = append(classes, r.class())
	}
	return classes, nil
}

func (repo *classroomRepository) UpdateClass(ctx context.Context, cls classroom.Class) (classroom.Class, error) {
	var row classRow
	err := repo.db.GetContext(ctx, &row, `
		UPDATE classes SET name = $1, description = $2, updated_at = $3
		WHERE id = $4
		RETURNING *`,
		cls.Name, cls.Description, cls.UpdatedAt.UTC(), cls.ID,
	)
	if err != nil {
		return classroom.Class{}, trapNoRowsErr(err, classroom.ErrClassNotFound, "updating class")
	}
	return row.class(), nil
}

// DeleteClass deletes the class; assignments, enrollments and submissions go with it through the foreign keys.
func (repo *classroomRepository) DeleteClass(ctx context.Context, id string) (classroom.Cascade, error) {
	var cascade classroom.Cascade
	err := inTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		var found string
		if err := tx.GetContext(ctx, &found, "SELECT id FROM classes WHERE id = $1 FOR UPDATE", id); err != nil {
			return trapNoRowsErr(err, classroom.ErrClassNotFound, "locking class")
		}
		if err := tx.GetContext(ctx, &cascade.Assignments, "SELECT COUNT(*) FROM assignments WHERE class_id = $1", id); err != nil {
			return errors.Wrap(err, "counting assignments")
		}
		if err := tx.GetContext(ctx, &cascade.Enrollments, "SELECT COUNT(*) FROM enrollments WHERE class_id = $1", id); err != nil {
			return errors.Wrap(err, "counting enrollments")
		}

		var rows []submissionRow
		err := tx.SelectContext(ctx, &rows, `
			SELECT `+submissionColumns+` FROM submissions
			WHERE assignment_id IN (SELECT id FROM assignments WHERE class_id = $1)
			ORDER BY seq`, id)
		if err != nil {
			return errors.Wrap(err, "selecting submissions")
		}
		cascade.Submissions = submissionsFromRows(rows)

		if _, err = tx.ExecContext(ctx, "DELETE FROM classes WHERE id = $1", id); err != nil {
			return errors.Wrap(err, "deleting class")
		}
		return nil
	})
	if err != nil {
		return classroom.Cascade{}, err
	}
	return cascade, nil
}

// =========================================================================
// Enrollments

func (repo *classroomRepository) UpsertEnrollment(ctx context.Context, enr classroom.Enrollment) (classroom.Enrollment, error) {
	_, err := repo.db.ExecContext(ctx, `
		INSERT INTO enrollments (student_id, class_id, joined_at) VALUES ($1, $2, $3)
		ON CONFLICT (student_id, class_id) DO NOTHING`,
		enr.StudentID, enr.ClassID, enr.JoinedAt.UTC(),
	)
	if err != nil {
		if pqCode(err) == codeForeignKeyViolation {
			return classroom.Enrollment{}, classroom.ErrClassNotFound
		}
		return classroom.Enrollment{}, errors.Wrap(err, "inserting enrollment")
	}
	return repo.GetEnrollment(ctx, enr.ClassID, enr.StudentID)
}

func (repo *classroomRepository) GetEnrollment(ctx context.Context, classID, studentID string) (classroom.Enrollment, error) {
	var row enrollmentRow
	err := repo.db.GetContext(ctx, &row,
		"SELECT * FROM enrollments WHERE class_id = $1 AND student_id = $2", classID, studentID)
	if err != nil {
		return classroom.Enrollment{}, trapNoRowsErr(err, classroom.ErrEnrollmentNotFound, "selecting enrollment")
	}
	return row.enrollment(), nil
}

func (repo *classroomRepository) QueryEnrollments(ctx context.Context, filter classroom.EnrollmentFilter) ([]classroom.Enrollment, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.ClassID != "" {
		where = append(where, "class_id = ?")
		args = append(args, filter.ClassID)
	}
	if filter.StudentID != "" {
		where = append(where, "student_id = ?")
		args = append(args, filter.StudentID)
	}
	query := "SELECT * FROM enrollments"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY joined_at, student_id"

	var rows []enrollmentRow
	if err := repo.db.SelectContext(ctx, &rows, repo.db.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "selecting enrollments")
	}
	enrs := make([]classroom.Enrollment, 0, len(rows))
	for _, r := range rows {
		enrs = append(enrs, r.enrollment())
	}
	return enrs, nil
}

// =========================================================================
// Assignments

func (repo *classroomRepository) CreateAssignment(ctx context.Context, asgmt classroom.Assignment) (classroom.Assignment, error) {
	asgmt.ID = uuid.NewString()
	_, err := repo.db.ExecContext(ctx, `
		INSERT INTO assignments (id, class_id, title, description, due_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		asgmt.ID, asgmt.ClassID, asgmt.Title, asgmt.Description, asgmt.DueDate, asgmt.CreatedAt.UTC(),
	)
	if err != nil {
		if pqCode(err) == codeForeignKeyViolation {
			return classroom.Assignment{}, classroom.ErrClassNotFound
		}
		return classroom.Assignment{}, errors.Wrap(err, "inserting assignment")
	}
	return asgmt, nil
}

func (repo *classroomRepository) GetAssignment(ctx context.Context, id string) (classroom.Assignment, error) {
	var row assignmentRow
	if err := repo.db.GetContext(ctx, &row, "SELECT * FROM assignments WHERE id = $1", id); err != nil {
		return classroom.Assignment{}, trapNoRowsErr(err, classroom.ErrAssignmentNotFound, "selecting assignment")
	}
	return row.assignment(), nil
}

func (repo *classroomRepository) QueryAssignments(ctx context.Context, classID string) ([]classroom.Assignment, error) {
	var rows []assignmentRow
	err := repo.db.SelectContext(ctx, &rows,
		"SELECT * FROM assignments WHERE class_id = $1 ORDER BY created_at DESC, id", classID)
	if err != nil {
		return nil, errors.Wrap(err, "selecting assignments")
	}
	asgmts := make([]classroom.Assignment, 0, len(rows))
	for _, r := range rows {
		asgmts = append(asgmts, r.assignment())
	}
	return asgmts, nil
}

func (repo *classroomRepository) UpdateAssignment(ctx context.Context, asgmt classroom.Assignment) (classroom.Assignment, error) {
	var row assignmentRow
	err := repo.db.GetContext(ctx, &row, `
		UPDATE assignments SET title = $1, description = $2, due_date = $3
		WHERE id = $4
		RETURNING *`,
		asgmt.Title, asgmt.Description, asgmt.DueDate, asgmt.ID,
	)
	if err != nil {
		return classroom.Assignment{}, trapNoRowsErr(err, classroom.ErrAssignmentNotFound, "updating assignment")
	}
	return row.assignment(), nil
}

func (repo *classroomRepository) DeleteAssignment(ctx context.Context, id string) (classroom.Cascade, error) {
	cascade := classroom.Cascade{Assignments: 1}
	err := inTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		var rows []submissionRow
		err := tx.SelectContext(ctx, &rows,
			"SELECT "+submissionColumns+" FROM submissions WHERE assignment_id = $1 ORDER BY seq", id)
		if err != nil {
			return errors.Wrap(err, "selecting submissions")
		}
		cascade.Submissions = submissionsFromRows(rows)

		res, err := tx.ExecContext(ctx, "DELETE FROM assignments WHERE id = $1", id)
		if err != nil {
			return errors.Wrap(err, "deleting assignment")
		}
		if n, err := res.RowsAffected(); err != nil {
			return errors.Wrap(err, "deleting assignment")
		} else if n == 0 {
			return classroom.ErrAssignmentNotFound
		}
		return nil
	})
	if err != nil {
		return classroom.Cascade{}, err
	}
	return cascade, nil
}

// =========================================================================
// Submissions

func (repo *classroomRepository) CreateSubmission(ctx context.Context, sub classroom.Submission) (classroom.Submission, error) {
	sub.ID = uuid.NewString()
	var marks null.Int
	if sub.Marks != nil {
		marks = null.IntFrom(*sub.Marks)
	}
	_, err := repo.db.ExecContext(ctx, `
		INSERT INTO submissions (id, assignment_id, student_id, filename, file_path, marks, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sub.ID, sub.AssignmentID, sub.StudentID, sub.Filename, sub.FilePath, marks, sub.CreatedAt.UTC(),
	)
	if err != nil {
		if pqCode(err) == codeForeignKeyViolation {
			return classroom.Submission{}, classroom.ErrAssignmentNotFound
		}
		return classroom.Submission{}, errors.Wrap(err, "inserting submission")
	}
	return sub, nil
}

func (repo *classroomRepository) GetSubmission(ctx context.Context, id string) (classroom.Submission, error) {
	var row submissionRow
	err := repo.db.GetContext(ctx, &row, "SELECT "+submissionColumns+" FROM submissions WHERE id = $1", id)
	if err != nil {
		return classroom.Submission{}, trapNoRowsErr(err, classroom.ErrSubmissionNotFound, "selecting submission")
	}
	return row.submission(), nil
}

// QuerySubmissions returns the matching submissions in insertion order.
func (repo *classroomRepository) QuerySubmissions(ctx context.Context, filter classroom.SubmissionFilter) ([]classroom.Submission, error) {
	var (
		where []string
		args  []interface{}
	)
	if len(filter.AssignmentIDs) > 0 {
		where = append(where, "assignment_id IN (?)")
		args = append(args, filter.AssignmentIDs)
	}
	if len(filter.StudentIDs) > 0 {
		where = append(where, "student_id IN (?)")
		args = append(args, filter.StudentIDs)
	}
	query := "SELECT " + submissionColumns + " FROM submissions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq"

	var rows []submissionRow
	if err := selectIn(ctx, repo.db, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "selecting submissions")
	}
	return submissionsFromRows(rows), nil
}

func (repo *classroomRepository) SetMarks(ctx context.Context, assignmentID, studentID string, marks int) (int, error) {
	res, err := repo.db.ExecContext(ctx,
		"UPDATE submissions SET marks = $1 WHERE assignment_id = $2 AND student_id = $3",
		marks, assignmentID, studentID,
	)
	if err != nil {
		return 0, errors.Wrap(err, "updating marks")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "updating marks")
	}
	return int(n), nil
}
