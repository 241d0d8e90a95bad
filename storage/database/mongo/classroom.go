package mongorepos

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/trezcool/darasa/core/classroom"
)

type (
	classDoc struct {
		ID          primitive.ObjectID `bson:"_id"`
		Name        string             `bson:"class_name"`
		Description string             `bson:"description"`
		OwnerID     primitive.ObjectID `bson:"created_by_id"`
		OwnerName   string             `bson:"created_by_name"`
		CreatedAt   time.Time          `bson:"created_at"`
		UpdatedAt   time.Time          `bson:"updated_at,omitempty"`
	}

	enrollmentDoc struct {
		ID        primitive.ObjectID `bson:"_id,omitempty"`
		StudentID primitive.ObjectID `bson:"student_id"`
		ClassID   primitive.ObjectID `bson:"class_id"`
		JoinedAt  time.Time          `bson:"joined_at,omitempty"`
	}

	assignmentDoc struct {
		ID          primitive.ObjectID `bson:"_id"`
		ClassID     primitive.ObjectID `bson:"class_id"`
		Title       string             `bson:"title"`
		Description string             `bson:"description"`
		DueDate     string             `bson:"due_date"`
		CreatedAt   time.Time          `bson:"created_at"`
	}

	submissionDoc struct {
		ID           primitive.ObjectID `bson:"_id"`
		AssignmentID primitive.ObjectID `bson:"assignment_id"`
		StudentID    primitive.ObjectID `bson:"student_id"`
		Filename     string             `bson:"filename"`
		FilePath     string             `bson:"filepath"`
		Marks        *int               `bson:"marks,omitempty"`
		CreatedAt    time.Time          `bson:"created_at,omitempty"`
	}
)

func (d classDoc) class() classroom.Class {
	return classroom.Class{
		ID:          d.ID.Hex(),
		Name:        d.Name,
		Description: d.Description,
		OwnerID:     d.OwnerID.Hex(),
		OwnerName:   d.OwnerName,
		CreatedAt:   utc(d.CreatedAt),
		UpdatedAt:   utc(d.UpdatedAt),
	}
}

func (d enrollmentDoc) enrollment() classroom.Enrollment {
	return classroom.Enrollment{StudentID: d.StudentID.Hex(), ClassID: d.ClassID.Hex(), JoinedAt: utc(d.JoinedAt)}
}

func (d assignmentDoc) assignment() classroom.Assignment {
	return classroom.Assignment{
		ID:          d.ID.Hex(),
		ClassID:     d.ClassID.Hex(),
		Title:       d.Title,
		Description: d.Description,
		DueDate:     d.DueDate,
		CreatedAt:   utc(d.CreatedAt),
	}
}

func (d submissionDoc) submission() classroom.Submission {
	return classroom.Submission{
		ID:           d.ID.Hex(),
		AssignmentID: d.AssignmentID.Hex(),
		StudentID:    d.StudentID.Hex(),
		Filename:     d.Filename,
		FilePath:     d.FilePath,
		Marks:        d.Marks,
		CreatedAt:    utc(d.CreatedAt),
	}
}

// findAll decodes every document matched by filter into docs, a pointer to a slice.
func findAll(ctx context.Context, coll *mongo.Collection, docs interface{}, filter interface{}, opts ...*options.FindOptions) error {
	cur, err := coll.Find(ctx, filter, opts...)
	if err != nil {
		return errors.Wrapf(err, "finding %s", coll.Name())
	}
	return errors.Wrapf(cur.All(ctx, docs), "decoding %s", coll.Name())
}

// findOne decodes the document matched by filter into doc; notFound is returned when there is none.
func findOne(ctx context.Context, coll *mongo.Collection, doc interface{}, filter interface{}, notFound error) error {
	if err := coll.FindOne(ctx, filter).Decode(doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return notFound
		}
		return errors.Wrapf(err, "finding %s", coll.Name())
	}
	return nil
}

var (
	newestFirst     = options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	insertionOrder  = options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	joinedTimeOrder = options.Find().SetSort(bson.D{{Key: "joined_at", Value: 1}, {Key: "_id", Value: 1}})
)

type classroomRepository struct {
	users       *mongo.Collection
	classes     *mongo.Collection
	enrollments *mongo.Collection
	assignments *mongo.Collection
	submissions *mongo.Collection
}

var _ classroom.Repository = (*classroomRepository)(nil) // interface compliance check

func NewClassroomRepository(db *DB) classroom.Repository {
	return &classroomRepository{
		users:       db.Collection(usersCollection),
		classes:     db.Collection(classesCollection),
		enrollments: db.Collection(enrollmentsCollection),
		assignments: db.Collection(assignmentsCollection),
		submissions: db.Collection(submissionsCollection),
	}
}

// =========================================================================
// Classes

func (repo *classroomRepository) CreateClass(ctx context.Context, cls classroom.Class) (classroom.Class, error) {
	ownerID, ok := oid(cls.OwnerID)
	if !ok {
		return classroom.Class{}, errors.Errorf("invalid owner id %q", cls.OwnerID)
	}
	doc := classDoc{
		ID:          primitive.NewObjectID(),
		Name:        cls.Name,
		Description: cls.Description,
		OwnerID:     ownerID,
		OwnerName:   cls.OwnerName,
		CreatedAt:   cls.CreatedAt.UTC(),
		UpdatedAt:   cls.UpdatedAt.UTC(),
	}
	if _, err := repo.classes.InsertOne(ctx, doc); err != nil {
		return classroom.Class{}, errors.Wrap(err, "inserting class")
	}
	return doc.class(), nil
}

func (repo *classroomRepository) GetClass(ctx context.Context, id string) (classroom.Class, error) {
	classID, ok := oid(id)
	if !ok {
		return classroom.Class{}, classroom.ErrClassNotFound
	}
	var doc classDoc
	if err := findOne(ctx, repo.classes, &doc, bson.M{"_id": classID}, classroom.ErrClassNotFound); err != nil {
		return classroom.Class{}, err
	}
	return doc.class(), nil
}

func (repo *classroomRepository) QueryClasses(ctx context.Context, filter classroom.ClassFilter) ([]classroom.Class, error) {
	query := bson.M{}
	if filter.IDs != nil {
		query["_id"] = bson.M{"$in": oids(filter.IDs)}
	}
	if filter.OwnerID != "" {
		ownerID, ok := oid(filter.OwnerID)
		if !ok {
			return []classroom.Class{}, nil
		}
		query["created_by_id"] = ownerID
	}

	var docs []classDoc
	if err := findAll(ctx, repo.classes, &docs, query, newestFirst); err != nil {
		return nil, err
	}
	return lo.Map(docs, func(d classDoc, _ int) classroom.Class { return d.class() }), nil
}

func (repo *classroomRepository) UpdateClass(ctx context.Context, cls classroom.Class) (classroom.Class, error) {
	classID, ok := oid(cls.ID)
	if !ok {
		return classroom.Class{}, classroom.ErrClassNotFound
	}
	var doc classDoc
	err := repo.classes.FindOneAndUpdate(ctx,
		bson.M{"_id": classID},
		bson.M{"$set": bson.M{
			"class_name":  cls.Name,
			"description": cls.Description,
			"updated_at":  cls.UpdatedAt.UTC(),
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return classroom.Class{}, classroom.ErrClassNotFound
		}
		return classroom.Class{}, errors.Wrap(err, "updating class")
	}
	return doc.class(), nil
}

// DeleteClass deletes the class and its assignments, enrollments and submissions,
// and removes it from the legacy joined classes of its students. Children go first,
// so an interrupted deletion can be resumed by deleting the class again.
func (repo *classroomRepository) DeleteClass(ctx context.Context, id string) (classroom.Cascade, error) {
	classID, ok := oid(id)
	if !ok {
		return classroom.Cascade{}, classroom.ErrClassNotFound
	}
	if n, err := repo.classes.CountDocuments(ctx, bson.M{"_id": classID}); err != nil {
		return classroom.Cascade{}, errors.Wrap(err, "finding class")
	} else if n == 0 {
		return classroom.Cascade{}, classroom.ErrClassNotFound
	}

	asgmtIDs, err := repo.assignments.Distinct(ctx, "_id", bson.M{"class_id": classID})
	if err != nil {
		return classroom.Cascade{}, errors.Wrap(err, "finding assignments")
	}
	if asgmtIDs == nil {
		asgmtIDs = bson.A{}
	}
	var subs []submissionDoc
	if err = findAll(ctx, repo.submissions, &subs, bson.M{"assignment_id": bson.M{"$in": asgmtIDs}}, insertionOrder); err != nil {
		return classroom.Cascade{}, err
	}

	cascade := classroom.Cascade{
		Assignments: len(asgmtIDs),
		Submissions: lo.Map(subs, func(d submissionDoc, _ int) classroom.Submission { return d.submission() }),
	}
	if _, err = repo.submissions.DeleteMany(ctx, bson.M{"assignment_id": bson.M{"$in": asgmtIDs}}); err != nil {
		return classroom.Cascade{}, errors.Wrap(err, "deleting submissions")
	}
	if _, err = repo.assignments.DeleteMany(ctx, bson.M{"class_id": classID}); err != nil {
		return classroom.Cascade{}, errors.Wrap(err, "deleting assignments")
	}
	res, err := repo.enrollments.DeleteMany(ctx, bson.M{"class_id": classID})
	if err != nil {
		return classroom.Cascade{}, errors.Wrap(err, "deleting enrollments")
	}
	cascade.Enrollments = int(res.DeletedCount)
	_, err = repo.users.UpdateMany(ctx,
		bson.M{"joined_classes": classID},
		bson.M{"$pull": bson.M{"joined_classes": classID}},
	)
	if err != nil {
		return classroom.Cascade{}, errors.Wrap(err, "updating joined classes")
	}
	if _, err = repo.classes.DeleteOne(ctx, bson.M{"_id": classID}); err != nil {
		return classroom.Cascade{}, errors.Wrap(err, "deleting class")
	}
	return cascade, nil
}

// =========================================================================
// Enrollments

func (repo *classroomRepository) UpsertEnrollment(ctx context.Context, enr classroom.Enrollment) (classroom.Enrollment, error) {
	if _, err := repo.GetClass(ctx, enr.ClassID); err != nil {
		return classroom.Enrollment{}, err
	}
	classID, _ := oid(enr.ClassID)
	studentID, ok := oid(enr.StudentID)
	if !ok {
		return classroom.Enrollment{}, errors.Errorf("invalid student id %q", enr.StudentID)
	}

	filter := bson.M{"student_id": studentID, "class_id": classID}
	_, err := repo.enrollments.UpdateOne(ctx, filter,
		bson.M{"$setOnInsert": bson.M{"joined_at": enr.JoinedAt.UTC()}},
		options.Update().SetUpsert(true),
	)
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return classroom.Enrollment{}, errors.Wrap(err, "upserting enrollment")
	}

	var doc enrollmentDoc
	if err = findOne(ctx, repo.enrollments, &doc, filter, classroom.ErrEnrollmentNotFound); err != nil {
		return classroom.Enrollment{}, err
	}
	return doc.enrollment(), nil
}

func (repo *classroomRepository) GetEnrollment(ctx context.Context, classID, studentID string) (classroom.Enrollment, error) {
	cid, ok1 := oid(classID)
	sid, ok2 := oid(studentID)
	if !ok1 || !ok2 {
		return classroom.Enrollment{}, classroom.ErrEnrollmentNotFound
	}
	var doc enrollmentDoc
	if err := findOne(ctx, repo.enrollments, &doc, bson.M{"class_id": cid, "student_id": sid}, classroom.ErrEnrollmentNotFound); err != nil {
		return classroom.Enrollment{}, err
	}
	return doc.enrollment(), nil
}

func (repo *classroomRepository) QueryEnrollments(ctx context.Context, filter classroom.EnrollmentFilter) ([]classroom.Enrollment, error) {
	query := bson.M{}
	for field, id := range map[string]string{"class_id": filter.ClassID, "student_id": filter.StudentID} {
		if id == "" {
			continue
		}
		o, ok := oid(id)
		if !ok {
			return []classroom.Enrollment{}, nil
		}
		query[field] = o
	}

	var docs []enrollmentDoc
	if err := findAll(ctx, repo.enrollments, &docs, query, joinedTimeOrder); err != nil {
		return nil, err
	}
	return lo.Map(docs, func(d enrollmentDoc, _ int) classroom.Enrollment { return d.enrollment() }), nil
}

// =========================================================================
// Assignments

func (repo *classroomRepository) CreateAssignment(ctx context.Context, asgmt classroom.Assignment) (classroom.Assignment, error) {
	if _, err := repo.GetClass(ctx, asgmt.ClassID); err != nil {
		return classroom.Assignment{}, err
	}
	classID, _ := oid(asgmt.ClassID)
	doc := assignmentDoc{
		ID:          primitive.NewObjectID(),
		ClassID:     classID,
		Title:       asgmt.Title,
		Description: asgmt.Description,
		DueDate:     asgmt.DueDate,
		CreatedAt:   asgmt.CreatedAt.UTC(),
	}
	if _, err := repo.assignments.InsertOne(ctx, doc); err != nil {
		return classroom.Assignment{}, errors.Wrap(err, "inserting assignment")
	}
	return doc.assignment(), nil
}

func (repo *classroomRepository) GetAssignment(ctx context.Context, id string) (classroom.Assignment, error) {
	asgmtID, ok := oid(id)
	if !ok {
		return classroom.Assignment{}, classroom.ErrAssignmentNotFound
	}
	var doc assignmentDoc
	if err := findOne(ctx, repo.assignments, &doc, bson.M{"_id": asgmtID}, classroom.ErrAssignmentNotFound); err != nil {
		return classroom.Assignment{}, err
	}
	return doc.assignment(), nil
}

func (repo *classroomRepository) QueryAssignments(ctx context.Context, classID string) ([]classroom.Assignment, error) {
	cid, ok := oid(classID)
	if !ok {
		return []classroom.Assignment{}, nil
	}
	var docs []assignmentDoc
	if err := findAll(ctx, repo.assignments, &docs, bson.M{"class_id": cid}, newestFirst); err != nil {
		return nil, err
	}
	return lo.Map(docs, func(d assignmentDoc, _ int) classroom.Assignment { return d.assignment() }), nil
}

func (repo *classroomRepository) UpdateAssignment(ctx context.Context, asgmt classroom.Assignment) (classroom.Assignment, error) {
	asgmtID, ok := oid(asgmt.ID)
	if !ok {
		return classroom.Assignment{}, classroom.ErrAssignmentNotFound
	}
	var doc assignmentDoc
	err := repo.assignments.FindOneAndUpdate(ctx,
		bson.M{"_id": asgmtID},
		bson.M{"$set": bson.M{
			"title":       asgmt.Title,
			"description": asgmt.Description,
			"due_date":    asgmt.DueDate,
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return classroom.Assignment{}, classroom.ErrAssignmentNotFound
		}
		return classroom.Assignment{}, errors.Wrap(err, "updating assignment")
	}
	return doc.assignment(), nil
}

func (repo *classroomRepository) DeleteAssignment(ctx context.Context, id string) (classroom.Cascade, error) {
	asgmtID, ok := oid(id)
	if !ok {
		return classroom.Cascade{}, classroom.ErrAssignmentNotFound
	}
	var subs []submissionDoc
	if err := findAll(ctx, repo.submissions, &subs, bson.M{"assignment_id": asgmtID}, insertionOrder); err != nil {
		return classroom.Cascade{}, err
	}

	res, err := repo.assignments.DeleteOne(ctx, bson.M{"_id": asgmtID})
	if err != nil {
		return classroom.Cascade{}, errors.Wrap(err, "deleting assignment")
	}
	if res.DeletedCount == 0 {
		return classroom.Cascade{}, classroom.ErrAssignmentNotFound
	}
	if _, err = repo.submissions.DeleteMany(ctx, bson.M{"assignment_id": asgmtID}); err != nil {
		return classroom.Cascade{}, errors.Wrap(err, "deleting submissions")
	}
	return classroom.Cascade{
		Assignments: 1,
		Submissions: lo.Map(subs, func(d submissionDoc, _ int) classroom.Submission { return d.submission() }),
	}, nil
}

// =========================================================================
// Submissions

func (repo *classroomRepository) CreateSubmission(ctx context.Context, sub classroom.Submission) (classroom.Submission, error) {
	if _, err := repo.GetAssignment(ctx, sub.AssignmentID); err != nil {
		return classroom.Submission{}, err
	}
	asgmtID, _ := oid(sub.AssignmentID)
	studentID, ok := oid(sub.StudentID)
	if !ok {
		return classroom.Submission{}, errors.Errorf("invalid student id %q", sub.StudentID)
	}
	doc := submissionDoc{
		ID:           primitive.NewObjectID(),
		AssignmentID: asgmtID,
		StudentID:    studentID,
		Filename:     sub.Filename,
		FilePath:     sub.FilePath,
		Marks:        sub.Marks,
		CreatedAt:    sub.CreatedAt.UTC(),
	}
	if _, err := repo.submissions.InsertOne(ctx, doc); err != nil {
		return classroom.Submission{}, errors.Wrap(err, "inserting submission")
	}
	return doc.submission(), nil
}

func (repo *classroomRepository) GetSubmission(ctx context.Context, id string) (classroom.Submission, error) {
	subID, ok := oid(id)
	if !ok {
		return classroom.Submission{}, classroom.ErrSubmissionNotFound
	}
	var doc submissionDoc
	if err := findOne(ctx, repo.submissions, &doc, bson.M{"_id": subID}, classroom.ErrSubmissionNotFound); err != nil {
		return classroom.Submission{}, err
	}
	return doc.submission(), nil
}

// QuerySubmissions returns the matching submissions in insertion order.
func (repo *classroomRepository) QuerySubmissions(ctx context.Context, filter classroom.SubmissionFilter) ([]classroom.Submission, error) {
	query := bson.M{}
	if len(filter.AssignmentIDs) > 0 {
		query["assignment_id"] = bson.M{"$in": oids(filter.AssignmentIDs)}
	}
	if len(filter.StudentIDs) > 0 {
		query["student_id"] = bson.M{"$in": oids(filter.StudentIDs)}
	}

	var docs []submissionDoc
	if err := findAll(ctx, repo.submissions, &docs, query, insertionOrder); err != nil {
		return nil, err
	}
	return lo.Map(docs, func(d submissionDoc, _ int) classroom.Submission { return d.submission() }), nil
}

func (repo *classroomRepository) SetMarks(ctx context.Context, assignmentID, studentID string, marks int) (int, error) {
	aid, ok1 := oid(assignmentID)
	sid, ok2 := oid(studentID)
	if !ok1 || !ok2 {
		return 0, nil
	}
	res, err := repo.submissions.UpdateMany(ctx,
		bson.M{"assignment_id": aid, "student_id": sid},
		bson.M{"$set": bson.M{"marks": marks}},
	)
	if err != nil {
		return 0, errors.Wrap(err, "updating marks")
	}
	return int(res.MatchedCount), nil
}
