package mongostore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/legout/flowerpower/internal/datastore"
	"github.com/legout/flowerpower/internal/domain"
)

type scheduleDoc struct {
	ID                string     `bson:"_id"`
	UserID            string     `bson:"userId"`
	Name              string     `bson:"name,omitempty"`
	FunctionModule    string     `bson:"functionModule"`
	FunctionSymbol    string     `bson:"functionSymbol"`
	PositionalArgs    []byte     `bson:"positionalArgs,omitempty"`
	KeywordArgs       []byte     `bson:"keywordArgs,omitempty"`
	TriggerKind       string     `bson:"triggerKind"`
	TriggerJSON       []byte     `bson:"triggerJson"`
	QueueName         string     `bson:"queueName,omitempty"`
	NextFireTime      time.Time  `bson:"nextFireTime"`
	LastFireTime      *time.Time `bson:"lastFireTime,omitempty"`
	MisfireGraceTime  int64      `bson:"misfireGraceTime"`
	MaxJitter         int64      `bson:"maxJitter"`
	Coalesce          string     `bson:"coalesce"`
	MaxRunningJobs    int        `bson:"maxRunningJobs"`
	Paused            bool       `bson:"paused"`
	ResultTTL         int64      `bson:"resultTtl"`
	MaxRetries        int        `bson:"maxRetries"`
	Backoff           string     `bson:"backoff"`
	CreatedAt         time.Time  `bson:"createdAt"`
	UpdatedAt         time.Time  `bson:"updatedAt"`
}

// triggerFields is the JSON-serializable subset of domain.Trigger: the
// tagged-variant fields, minus *time.Location which json can't round-trip
// on its own (stored as its zone name string instead).
type triggerFields struct {
	Crontab                                           string
	Minute, Hour, Day, Month, DayOfWeek               string
	CronStart, CronEnd                                *time.Time
	Timezone                                           string
	Weeks, Days, Hours, Minutes, Seconds, Microseconds int
	IntervalStart, IntervalEnd                         *time.Time
	Years, Months, CalWeeks, CalDays                   int
	AtHour, AtMinute, AtSecond                         int
	CalStartDate, CalEndDate                           *time.Time
	CalTimezone                                        string
	RunAt                                               time.Time
}

func encodeTrigger(t domain.Trigger) ([]byte, error) {
	tf := triggerFields{
		Crontab: t.Crontab, Minute: t.Minute, Hour: t.Hour, Day: t.Day, Month: t.Month, DayOfWeek: t.DayOfWeek,
		CronStart: t.CronStart, CronEnd: t.CronEnd,
		Weeks: t.Weeks, Days: t.Days, Hours: t.Hours, Minutes: t.Minutes, Seconds: t.Seconds, Microseconds: t.Microseconds,
		IntervalStart: t.IntervalStart, IntervalEnd: t.IntervalEnd,
		Years: t.Years, Months: t.Months, CalWeeks: t.CalWeeks, CalDays: t.CalDays,
		AtHour: t.AtHour, AtMinute: t.AtMinute, AtSecond: t.AtSecond,
		CalStartDate: t.CalStartDate, CalEndDate: t.CalEndDate,
		RunAt: t.RunAt,
	}
	if t.Timezone != nil {
		tf.Timezone = t.Timezone.String()
	}
	if t.CalTimezone != nil {
		tf.CalTimezone = t.CalTimezone.String()
	}
	return json.Marshal(tf)
}

func decodeTrigger(raw []byte, kind domain.TriggerKind) (domain.Trigger, error) {
	var tf triggerFields
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &tf); err != nil {
			return domain.Trigger{}, fmt.Errorf("decode trigger: %w", err)
		}
	}
	t := domain.Trigger{
		Kind: kind, Crontab: tf.Crontab, Minute: tf.Minute, Hour: tf.Hour, Day: tf.Day, Month: tf.Month, DayOfWeek: tf.DayOfWeek,
		CronStart: tf.CronStart, CronEnd: tf.CronEnd,
		Weeks: tf.Weeks, Days: tf.Days, Hours: tf.Hours, Minutes: tf.Minutes, Seconds: tf.Seconds, Microseconds: tf.Microseconds,
		IntervalStart: tf.IntervalStart, IntervalEnd: tf.IntervalEnd,
		Years: tf.Years, Months: tf.Months, CalWeeks: tf.CalWeeks, CalDays: tf.CalDays,
		AtHour: tf.AtHour, AtMinute: tf.AtMinute, AtSecond: tf.AtSecond,
		CalStartDate: tf.CalStartDate, CalEndDate: tf.CalEndDate,
		RunAt: tf.RunAt,
	}
	if tf.Timezone != "" {
		if loc, err := time.LoadLocation(tf.Timezone); err == nil {
			t.Timezone = loc
		}
	}
	if tf.CalTimezone != "" {
		if loc, err := time.LoadLocation(tf.CalTimezone); err == nil {
			t.CalTimezone = loc
		}
	}
	return t, nil
}

func toScheduleDoc(s *domain.Schedule) (scheduleDoc, error) {
	triggerJSON, err := encodeTrigger(s.Trigger)
	if err != nil {
		return scheduleDoc{}, err
	}
	return scheduleDoc{
		ID: s.ID, UserID: s.UserID, Name: s.Name,
		FunctionModule: s.FunctionRef.ModulePath, FunctionSymbol: s.FunctionRef.Symbol,
		PositionalArgs: s.PositionalArgs, KeywordArgs: s.KeywordArgs,
		TriggerKind: string(s.Trigger.Kind), TriggerJSON: triggerJSON,
		QueueName: s.QueueName, NextFireTime: s.NextFireTime, LastFireTime: s.LastFireTime,
		MisfireGraceTime: int64(s.MisfireGraceTime), MaxJitter: int64(s.MaxJitter),
		Coalesce: string(s.Coalesce), MaxRunningJobs: s.MaxRunningJobs, Paused: s.Paused,
		ResultTTL: int64(s.ResultTTL), MaxRetries: s.MaxRetries, Backoff: string(s.Backoff),
		CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt,
	}, nil
}

func fromScheduleDoc(d scheduleDoc) (*domain.Schedule, error) {
	trigger, err := decodeTrigger(d.TriggerJSON, domain.TriggerKind(d.TriggerKind))
	if err != nil {
		return nil, err
	}
	s := &domain.Schedule{
		ID: d.ID, UserID: d.UserID, Name: d.Name,
		FunctionRef:    domain.FunctionRef{ModulePath: d.FunctionModule, Symbol: d.FunctionSymbol},
		PositionalArgs: d.PositionalArgs, KeywordArgs: d.KeywordArgs,
		Trigger:   trigger,
		QueueName: d.QueueName, NextFireTime: d.NextFireTime, LastFireTime: d.LastFireTime,
		MisfireGraceTime: time.Duration(d.MisfireGraceTime), MaxJitter: time.Duration(d.MaxJitter),
		Coalesce: domain.CoalescePolicy(d.Coalesce), MaxRunningJobs: d.MaxRunningJobs, Paused: d.Paused,
		ResultTTL: time.Duration(d.ResultTTL), MaxRetries: d.MaxRetries, Backoff: domain.Backoff(d.Backoff),
		CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}
	return s, nil
}

func (s *Store) PutSchedule(ctx context.Context, sched *domain.Schedule) error {
	if sched.ID == "" {
		sched.ID = newID()
	}
	now := time.Now().UTC()
	sched.CreatedAt, sched.UpdatedAt = now, now

	doc, err := toScheduleDoc(sched)
	if err != nil {
		return fmt.Errorf("encode schedule: %w", err)
	}

	switch sched.ConflictPolicy {
	case domain.ConflictReplace, domain.ConflictUpdate:
		_, err = s.schedules.ReplaceOne(ctx, bson.M{"_id": sched.ID}, doc, options.Replace().SetUpsert(true))
	default:
		_, err = s.schedules.InsertOne(ctx, doc)
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
	}
	if err != nil {
		return fmt.Errorf("put schedule: %w", err)
	}
	return nil
}

func (s *Store) GetSchedule(ctx context.Context, id string) (*domain.Schedule, error) {
	var d scheduleDoc
	if err := s.schedules.FindOne(ctx, bson.M{"_id": id}).Decode(&d); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("find schedule: %w", err)
	}
	return fromScheduleDoc(d)
}

func (s *Store) ListSchedules(ctx context.Context, input datastore.ListSchedulesInput) ([]*domain.Schedule, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if input.Limit > 0 {
		opts.SetLimit(int64(input.Limit))
	}
	cur, err := s.schedules.Find(ctx, bson.M{"userId": input.UserID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer cur.Close(ctx)

	var out []*domain.Schedule
	for cur.Next(ctx) {
		var d scheduleDoc
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		sc, err := fromScheduleDoc(d)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, cur.Err()
}

func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	res, err := s.schedules.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	if res.DeletedCount == 0 {
		return domain.ErrScheduleNotFound
	}
	return nil
}

func (s *Store) PauseSchedule(ctx context.Context, id string) error {
	res, err := s.schedules.UpdateOne(ctx, bson.M{"_id": id, "paused": false}, bson.M{"$set": bson.M{"paused": true, "updatedAt": time.Now().UTC()}})
	if err != nil {
		return fmt.Errorf("pause schedule: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrScheduleAlreadyPaused
	}
	return nil
}

func (s *Store) ResumeSchedule(ctx context.Context, id string) error {
	res, err := s.schedules.UpdateOne(ctx, bson.M{"_id": id, "paused": true}, bson.M{"$set": bson.M{"paused": false, "updatedAt": time.Now().UTC()}})
	if err != nil {
		return fmt.Errorf("resume schedule: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrScheduleNotPaused
	}
	return nil
}

func (s *Store) ClaimDueSchedules(ctx context.Context, before time.Time, limit int) ([]*domain.Schedule, error) {
	cur, err := s.schedules.Find(ctx,
		bson.M{"paused": false, "nextFireTime": bson.M{"$lte": before}},
		options.Find().SetSort(bson.D{{Key: "nextFireTime", Value: 1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("claim due schedules: %w", err)
	}
	defer cur.Close(ctx)

	var out []*domain.Schedule
	for cur.Next(ctx) {
		var d scheduleDoc
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		sc, err := fromScheduleDoc(d)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, cur.Err()
}

func (s *Store) AdvanceSchedule(ctx context.Context, id string, nextFireTime time.Time, lastFireTime time.Time) error {
	_, err := s.schedules.UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$set": bson.M{"nextFireTime": nextFireTime, "lastFireTime": lastFireTime, "updatedAt": time.Now().UTC()}})
	return err
}
