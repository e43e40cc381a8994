// Package mongostore realizes datastore.Store over MongoDB, using
// FindOneAndUpdate (Mongo's findAndModify) for the atomic claim and
// schedule-advance operations that Postgres does with FOR UPDATE SKIP
// LOCKED. Grounded on the backend classification's is_mongodb_type
// distinction in original_source/src/flowerpower/backend/base.py, which
// treats MongoDB as a first-class data store kind alongside the SQL
// dialects.
package mongostore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/legout/flowerpower/internal/datastore"
	"github.com/legout/flowerpower/internal/domain"
)

type Store struct {
	client    *mongo.Client
	jobs      *mongo.Collection
	attempts  *mongo.Collection
	schedules *mongo.Collection
}

func New(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	db := client.Database(database)
	return &Store{
		client:    client,
		jobs:      db.Collection("jobs"),
		attempts:  db.Collection("job_attempts"),
		schedules: db.Collection("schedules"),
	}, nil
}

func (s *Store) Close() error {
	return s.client.Disconnect(context.Background())
}

type jobDoc struct {
	ID                string          `bson:"_id"`
	UserID            string          `bson:"userId"`
	IdempotencyKey    string          `bson:"idempotencyKey,omitempty"`
	FunctionModule    string          `bson:"functionModule"`
	FunctionSymbol    string          `bson:"functionSymbol"`
	PositionalArgs    []byte          `bson:"positionalArgs,omitempty"`
	KeywordArgs       []byte          `bson:"keywordArgs,omitempty"`
	Status            string          `bson:"status"`
	EnqueueTimestamp  time.Time       `bson:"enqueueTimestamp"`
	ScheduledFireTime *time.Time      `bson:"scheduledFireTime,omitempty"`
	ResultValue       []byte          `bson:"resultValue,omitempty"`
	ResultTTL         int64           `bson:"resultTtl"`
	JobTTL            int64           `bson:"jobTtl"`
	RetryCount        int             `bson:"retryCount"`
	RetryMax          int             `bson:"retryMax"`
	RetryDelay        int64           `bson:"retryDelay"`
	RetryBackoff      string          `bson:"retryBackoff"`
	RepeatMax         int             `bson:"repeatMax"`
	QueueName         string          `bson:"queueName"`
	OriginWorkerID    *string         `bson:"originWorkerId,omitempty"`
	FailureReason     *string         `bson:"failureReason,omitempty"`
	ScheduleID        *string         `bson:"scheduleId,omitempty"`
	ClaimedAt         *time.Time      `bson:"claimedAt,omitempty"`
	HeartbeatAt       *time.Time      `bson:"heartbeatAt,omitempty"`
	CompletedAt       *time.Time      `bson:"completedAt,omitempty"`
	CreatedAt         time.Time       `bson:"createdAt"`
	UpdatedAt         time.Time       `bson:"updatedAt"`
}

func toJobDoc(j *domain.Job) jobDoc {
	return jobDoc{
		ID: j.ID, UserID: j.UserID, IdempotencyKey: j.IdempotencyKey,
		FunctionModule: j.FunctionRef.ModulePath, FunctionSymbol: j.FunctionRef.Symbol,
		PositionalArgs: j.PositionalArgs, KeywordArgs: j.KeywordArgs,
		Status: string(j.Status), EnqueueTimestamp: j.EnqueueTimestamp, ScheduledFireTime: j.ScheduledFireTime,
		ResultValue: j.ResultValue, ResultTTL: int64(j.ResultTTL), JobTTL: int64(j.JobTTL),
		RetryCount: j.RetryCount, RetryMax: j.Retry.Max, RetryDelay: int64(j.Retry.Delay), RetryBackoff: string(j.Retry.Backoff),
		RepeatMax: j.Repeat.Max, QueueName: j.QueueName, OriginWorkerID: j.OriginWorkerID, FailureReason: j.FailureReason,
		ScheduleID: j.ScheduleID, ClaimedAt: j.ClaimedAt, HeartbeatAt: j.HeartbeatAt, CompletedAt: j.CompletedAt,
		CreatedAt: j.CreatedAt, UpdatedAt: j.UpdatedAt,
	}
}

func fromJobDoc(d jobDoc) *domain.Job {
	return &domain.Job{
		ID: d.ID, UserID: d.UserID, IdempotencyKey: d.IdempotencyKey,
		FunctionRef:       domain.FunctionRef{ModulePath: d.FunctionModule, Symbol: d.FunctionSymbol},
		PositionalArgs:    d.PositionalArgs,
		KeywordArgs:       d.KeywordArgs,
		Status:            domain.Status(d.Status),
		EnqueueTimestamp:  d.EnqueueTimestamp,
		ScheduledFireTime: d.ScheduledFireTime,
		ResultValue:       d.ResultValue,
		ResultTTL:         time.Duration(d.ResultTTL),
		JobTTL:            time.Duration(d.JobTTL),
		RetryCount:        d.RetryCount,
		Retry:             domain.RetryPolicy{Max: d.RetryMax, Delay: time.Duration(d.RetryDelay), Backoff: domain.Backoff(d.RetryBackoff)},
		Repeat:            domain.RepeatPolicy{Max: d.RepeatMax},
		QueueName:         d.QueueName,
		OriginWorkerID:    d.OriginWorkerID,
		FailureReason:     d.FailureReason,
		ScheduleID:        d.ScheduleID,
		ClaimedAt:         d.ClaimedAt,
		HeartbeatAt:       d.HeartbeatAt,
		CompletedAt:       d.CompletedAt,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

func (s *Store) PutJob(ctx context.Context, job *domain.Job) error {
	if job.ID == "" {
		job.ID = newID()
	}
	now := time.Now().UTC()
	job.CreatedAt, job.UpdatedAt = now, now
	_, err := s.jobs.InsertOne(ctx, toJobDoc(job))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrDuplicateJob
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	var d jobDoc
	if err := s.jobs.FindOne(ctx, bson.M{"_id": id}).Decode(&d); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("find job: %w", err)
	}
	return fromJobDoc(d), nil
}

func (s *Store) ListJobs(ctx context.Context, input datastore.ListJobsInput) ([]*domain.Job, error) {
	filter := bson.M{"userId": input.UserID}
	if input.Status != "" {
		filter["status"] = string(input.Status)
	}
	if input.QueueName != "" {
		filter["queueName"] = input.QueueName
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if input.Limit > 0 {
		opts.SetLimit(int64(input.Limit))
	}
	cur, err := s.jobs.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer cur.Close(ctx)

	var jobs []*domain.Job
	for cur.Next(ctx) {
		var d jobDoc
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		jobs = append(jobs, fromJobDoc(d))
	}
	return jobs, cur.Err()
}

// AcquireNext claims one job at a time via FindOneAndUpdate — Mongo's
// findAndModify — repeated until limit is reached or no more jobs
// qualify; each call is atomic so concurrent workers never double-claim.
func (s *Store) AcquireNext(ctx context.Context, queueNames []string, workerID string, limit int) ([]*domain.Job, error) {
	filter := bson.M{
		"$or": bson.A{
			bson.M{"status": string(domain.StatusQueued)},
			bson.M{"status": string(domain.StatusDeferred), "scheduledFireTime": bson.M{"$lte": time.Now().UTC()}},
		},
	}
	if len(queueNames) > 0 {
		filter["queueName"] = bson.M{"$in": queueNames}
	}
	update := bson.M{"$set": bson.M{
		"status": string(domain.StatusStarted), "originWorkerId": workerID,
		"claimedAt": time.Now().UTC(), "heartbeatAt": time.Now().UTC(), "updatedAt": time.Now().UTC(),
	}}
	opts := options.FindOneAndUpdate().SetSort(bson.D{{Key: "enqueueTimestamp", Value: 1}})

	var claimed []*domain.Job
	for i := 0; i < limit; i++ {
		var d jobDoc
		if err := s.jobs.FindOneAndUpdate(ctx, filter, update, opts).Decode(&d); err != nil {
			if err == mongo.ErrNoDocuments {
				break
			}
			return nil, fmt.Errorf("claim job: %w", err)
		}
		claimed = append(claimed, fromJobDoc(d))
	}
	return claimed, nil
}

func (s *Store) Heartbeat(ctx context.Context, jobID, _ string) error {
	_, err := s.jobs.UpdateOne(ctx,
		bson.M{"_id": jobID, "status": string(domain.StatusStarted)},
		bson.M{"$set": bson.M{"heartbeatAt": time.Now().UTC(), "updatedAt": time.Now().UTC()}})
	return err
}

func (s *Store) CompleteJob(ctx context.Context, jobID string, result any) error {
	var resultJSON []byte
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		resultJSON = b
	}
	_, err := s.jobs.UpdateOne(ctx, bson.M{"_id": jobID}, bson.M{"$set": bson.M{
		"status": string(domain.StatusFinished), "resultValue": resultJSON,
		"completedAt": time.Now().UTC(), "updatedAt": time.Now().UTC(),
	}})
	return err
}

func (s *Store) FailJob(ctx context.Context, jobID string, reason string, retryAt *time.Time) error {
	set := bson.M{"failureReason": reason, "updatedAt": time.Now().UTC()}
	inc := bson.M{"retryCount": 1}
	if retryAt != nil {
		set["status"] = string(domain.StatusDeferred)
		set["scheduledFireTime"] = *retryAt
	} else {
		set["status"] = string(domain.StatusFailed)
		set["completedAt"] = time.Now().UTC()
	}
	_, err := s.jobs.UpdateOne(ctx, bson.M{"_id": jobID}, bson.M{"$set": set, "$inc": inc})
	return err
}

func (s *Store) CancelJob(ctx context.Context, jobID string) error {
	res, err := s.jobs.UpdateOne(ctx,
		bson.M{"_id": jobID, "status": bson.M{"$in": bson.A{string(domain.StatusQueued), string(domain.StatusDeferred)}}},
		bson.M{"$set": bson.M{"status": string(domain.StatusCanceled), "completedAt": time.Now().UTC(), "updatedAt": time.Now().UTC()}})
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrJobNotCancellable
	}
	return nil
}

func (s *Store) DeleteJob(ctx context.Context, jobID string) error {
	res, err := s.jobs.DeleteOne(ctx, bson.M{"_id": jobID})
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if res.DeletedCount == 0 {
		return domain.ErrJobNotFound
	}
	_, _ = s.attempts.DeleteMany(ctx, bson.M{"jobId": jobID})
	return nil
}

func (s *Store) DeleteJobsByStatus(ctx context.Context, userID string, status domain.Status) (int, error) {
	filter := bson.M{"userId": userID}
	if status != "" {
		filter["status"] = string(status)
	}
	res, err := s.jobs.DeleteMany(ctx, filter)
	return int(res.DeletedCount), err
}

func (s *Store) RescueStaleJobs(ctx context.Context, staleCutoff time.Time, limit int) (int, error) {
	cur, err := s.jobs.Find(ctx,
		bson.M{"status": string(domain.StatusStarted), "heartbeatAt": bson.M{"$lt": staleCutoff}},
		options.Find().SetSort(bson.D{{Key: "heartbeatAt", Value: 1}}).SetLimit(int64(limit)))
	if err != nil {
		return 0, fmt.Errorf("find stale jobs: %w", err)
	}
	defer cur.Close(ctx)

	n := 0
	for cur.Next(ctx) {
		var d jobDoc
		if err := cur.Decode(&d); err != nil {
			return n, err
		}
		status := string(domain.StatusQueued)
		completedAt := any(nil)
		if d.RetryCount >= d.RetryMax {
			status = string(domain.StatusFailed)
			completedAt = time.Now().UTC()
		}
		_, err := s.jobs.UpdateOne(ctx, bson.M{"_id": d.ID}, bson.M{"$set": bson.M{
			"status": status, "failureReason": "worker heartbeat expired",
			"claimedAt": nil, "heartbeatAt": nil, "completedAt": completedAt, "updatedAt": time.Now().UTC(),
		}, "$inc": bson.M{"retryCount": 1}})
		if err != nil {
			return n, err
		}
		n++
	}
	return n, cur.Err()
}

type attemptDoc struct {
	ID          string     `bson:"_id"`
	JobID       string     `bson:"jobId"`
	AttemptNum  int        `bson:"attemptNum"`
	WorkerID    string     `bson:"workerId"`
	StartedAt   time.Time  `bson:"startedAt"`
	CompletedAt *time.Time `bson:"completedAt,omitempty"`
	StatusCode  *int       `bson:"statusCode,omitempty"`
	Error       *string    `bson:"error,omitempty"`
	DurationMS  *int64     `bson:"durationMs,omitempty"`
}

func (s *Store) PutAttempt(ctx context.Context, a *domain.JobAttempt) error {
	if a.ID == "" {
		a.ID = newID()
	}
	_, err := s.attempts.InsertOne(ctx, attemptDoc{
		ID: a.ID, JobID: a.JobID, AttemptNum: a.AttemptNum, WorkerID: a.WorkerID,
		StartedAt: a.StartedAt, CompletedAt: a.CompletedAt, StatusCode: a.StatusCode, Error: a.Error, DurationMS: a.DurationMS,
	})
	return err
}

func (s *Store) ListAttempts(ctx context.Context, jobID string) ([]*domain.JobAttempt, error) {
	cur, err := s.attempts.Find(ctx, bson.M{"jobId": jobID}, options.Find().SetSort(bson.D{{Key: "attemptNum", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer cur.Close(ctx)

	var attempts []*domain.JobAttempt
	for cur.Next(ctx) {
		var d attemptDoc
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		attempts = append(attempts, &domain.JobAttempt{
			ID: d.ID, JobID: d.JobID, AttemptNum: d.AttemptNum, WorkerID: d.WorkerID,
			StartedAt: d.StartedAt, CompletedAt: d.CompletedAt, StatusCode: d.StatusCode, Error: d.Error, DurationMS: d.DurationMS,
		})
	}
	return attempts, cur.Err()
}

func newID() string {
	return uuid.NewString()
}
