package mongodb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"prefect_server/core/domain"
	"prefect_server/core/port/out"
	"prefect_server/pkg/apperr"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/crypto/bcrypt"
)

// =============================================================================
// MongoDB Remote Store Adapter
// =============================================================================

const (
	collectionPrefects   = "prefects"
	collectionAttendance = "attendance"
	collectionOperators  = "operators"

	pingTimeout = 3 * time.Second
)

// RemoteAdapter implements out.RemoteStore using MongoDB. The attendance
// collection uses the deterministic composite key date + "_" + prefectId as
// the document id, so marking is an idempotent upsert.
type RemoteAdapter struct {
	db         *mongo.Database
	prefects   *mongo.Collection
	attendance *mongo.Collection
	operators  *mongo.Collection

	mu       sync.RWMutex
	identity *domain.Identity
}

// NewRemoteAdapter creates a new MongoDB remote store adapter.
func NewRemoteAdapter(db *mongo.Database) *RemoteAdapter {
	return &RemoteAdapter{
		db:         db,
		prefects:   db.Collection(collectionPrefects),
		attendance: db.Collection(collectionAttendance),
		operators:  db.Collection(collectionOperators),
	}
}

// EnsureIndexes creates the indexes the adapter queries against.
func (a *RemoteAdapter) EnsureIndexes(ctx context.Context) error {
	_, err := a.prefects.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to index prefects: %w", err)
	}

	_, err = a.attendance.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "date", Value: 1}}},
		{Keys: bson.D{{Key: "prefect_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to index attendance: %w", err)
	}

	_, err = a.operators.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to index operators: %w", err)
	}

	return nil
}

// EnsureAdmin creates the bootstrap admin operator when absent. An existing
// operator is left untouched.
func (a *RemoteAdapter) EnsureAdmin(ctx context.Context, email, password string) error {
	if email == "" || password == "" {
		return nil
	}

	count, err := a.operators.CountDocuments(ctx, bson.M{"email": email})
	if err != nil {
		return fmt.Errorf("failed to check admin operator: %w", err)
	}
	if count > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	_, err = a.operators.InsertOne(ctx, operatorDocument{
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    domain.NowISO(),
	})
	if err != nil {
		return fmt.Errorf("failed to create admin operator: %w", err)
	}
	return nil
}

// =============================================================================
// Document Models
// =============================================================================

type prefectDocument struct {
	ID              string            `bson:"id"`
	Name            string            `bson:"name"`
	Profile         map[string]string `bson:"profile,omitempty"`
	TotalAttendance int               `bson:"total_attendance"`
	CreatedAt       string            `bson:"created_at,omitempty"`
	CreatedBy       string            `bson:"created_by,omitempty"`
	UpdatedAt       string            `bson:"updated_at,omitempty"`
	UpdatedBy       string            `bson:"updated_by,omitempty"`
}

type attendanceDocument struct {
	Key       string `bson:"_id"`
	PrefectID string `bson:"prefect_id"`
	Date      string `bson:"date"`
	Timestamp string `bson:"timestamp"`
	MarkedBy  string `bson:"marked_by,omitempty"`
}

type operatorDocument struct {
	Email        string `bson:"email"`
	PasswordHash []byte `bson:"password_hash"`
	CreatedAt    string `bson:"created_at"`
}

// =============================================================================
// Authentication
// =============================================================================

// CheckAuthenticated pings the store and reports the session's auth state.
// An unreachable store is an error, never a stale true.
func (a *RemoteAdapter) CheckAuthenticated(ctx context.Context) (bool, error) {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := a.db.Client().Ping(pingCtx, nil); err != nil {
		return false, apperr.StoreUnreachable("mongodb", err)
	}
	return a.CurrentIdentity() != nil, nil
}

// Login verifies operator credentials and records the session identity.
func (a *RemoteAdapter) Login(ctx context.Context, email, password string) (*domain.Identity, error) {
	var op operatorDocument
	err := a.operators.FindOne(ctx, bson.M{"email": email}).Decode(&op)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, apperr.InvalidCredentials()
		}
		return nil, apperr.StoreUnreachable("mongodb", err)
	}

	if err := bcrypt.CompareHashAndPassword(op.PasswordHash, []byte(password)); err != nil {
		return nil, apperr.InvalidCredentials()
	}

	identity := &domain.Identity{Email: op.Email}

	a.mu.Lock()
	a.identity = identity
	a.mu.Unlock()

	return identity, nil
}

// Logout clears the session identity.
func (a *RemoteAdapter) Logout(ctx context.Context) error {
	a.mu.Lock()
	a.identity = nil
	a.mu.Unlock()
	return nil
}

// CurrentIdentity returns the last-known identity without a round trip.
func (a *RemoteAdapter) CurrentIdentity() *domain.Identity {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.identity
}

func (a *RemoteAdapter) operatorEmail() string {
	if id := a.CurrentIdentity(); id != nil {
		return id.Email
	}
	return "unknown"
}

// =============================================================================
// Prefects
// =============================================================================

// AddPrefect stores a new prefect with a store-assigned id and creation
// provenance. Returns the assigned id.
func (a *RemoteAdapter) AddPrefect(ctx context.Context, p *domain.Prefect) (string, error) {
	doc := prefectDocument{
		ID:              primitive.NewObjectID().Hex(),
		Name:            p.Name,
		Profile:         p.Profile,
		TotalAttendance: p.TotalAttendance,
		CreatedAt:       domain.NowISO(),
		CreatedBy:       a.operatorEmail(),
	}

	if _, err := a.prefects.InsertOne(ctx, doc); err != nil {
		return "", apperr.StoreUnreachable("mongodb", err)
	}

	// Reflect the assignment back so callers hold the stored form.
	p.ID = doc.ID
	p.CreatedAt = doc.CreatedAt
	p.CreatedBy = doc.CreatedBy
	return doc.ID, nil
}

// ListPrefects returns the full roster.
func (a *RemoteAdapter) ListPrefects(ctx context.Context) ([]domain.Prefect, error) {
	cursor, err := a.prefects.Find(ctx, bson.M{})
	if err != nil {
		return nil, apperr.StoreUnreachable("mongodb", err)
	}
	defer cursor.Close(ctx)

	prefects := []domain.Prefect{}
	for cursor.Next(ctx) {
		var doc prefectDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, apperr.StoreUnreachable("mongodb", err)
		}
		prefects = append(prefects, toPrefect(&doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, apperr.StoreUnreachable("mongodb", err)
	}
	return prefects, nil
}

// UpdatePrefect applies a partial update and stamps update provenance.
func (a *RemoteAdapter) UpdatePrefect(ctx context.Context, id string, upd *domain.PrefectUpdate) error {
	set := bson.M{
		"updated_at": domain.NowISO(),
		"updated_by": a.operatorEmail(),
	}
	if upd.Name != nil {
		set["name"] = *upd.Name
	}
	if upd.Profile != nil {
		set["profile"] = upd.Profile
	}
	if upd.TotalAttendance != nil {
		set["total_attendance"] = *upd.TotalAttendance
	}

	result, err := a.prefects.UpdateOne(ctx, bson.M{"id": id}, bson.M{"$set": set})
	if err != nil {
		return apperr.StoreUnreachable("mongodb", err)
	}
	if result.MatchedCount == 0 {
		return apperr.NotFound("prefect").WithDetail("id", id)
	}
	return nil
}

// DeletePrefect removes the prefect and, best effort, its attendance
// documents. A failed attendance cleanup does not fail the delete.
func (a *RemoteAdapter) DeletePrefect(ctx context.Context, id string) error {
	result, err := a.prefects.DeleteOne(ctx, bson.M{"id": id})
	if err != nil {
		return apperr.StoreUnreachable("mongodb", err)
	}
	if result.DeletedCount == 0 {
		return apperr.NotFound("prefect").WithDetail("id", id)
	}

	// Best-effort cascade; orphaned records are tolerated.
	_, _ = a.attendance.DeleteMany(ctx, bson.M{"prefect_id": id})
	return nil
}

// IncrementAttendanceCount bumps the counter atomically on the store side.
func (a *RemoteAdapter) IncrementAttendanceCount(ctx context.Context, id string, delta int) error {
	result, err := a.prefects.UpdateOne(ctx, bson.M{"id": id}, bson.M{
		"$inc": bson.M{"total_attendance": delta},
		"$set": bson.M{
			"updated_at": domain.NowISO(),
			"updated_by": a.operatorEmail(),
		},
	})
	if err != nil {
		return apperr.StoreUnreachable("mongodb", err)
	}
	if result.MatchedCount == 0 {
		return apperr.NotFound("prefect").WithDetail("id", id)
	}
	return nil
}

// =============================================================================
// Attendance
// =============================================================================

// MarkAttendance upserts the record under its composite key.
func (a *RemoteAdapter) MarkAttendance(ctx context.Context, rec *domain.AttendanceRecord) error {
	doc := attendanceDocument{
		Key:       domain.AttendanceKey(rec.Date, rec.PrefectID),
		PrefectID: rec.PrefectID,
		Date:      rec.Date,
		Timestamp: rec.Timestamp,
		MarkedBy:  rec.MarkedBy,
	}

	opts := options.Replace().SetUpsert(true)
	if _, err := a.attendance.ReplaceOne(ctx, bson.M{"_id": doc.Key}, doc, opts); err != nil {
		return apperr.StoreUnreachable("mongodb", err)
	}
	return nil
}

// AttendanceExists probes for a record by its composite key.
func (a *RemoteAdapter) AttendanceExists(ctx context.Context, date, prefectID string) (bool, error) {
	key := domain.AttendanceKey(date, prefectID)
	count, err := a.attendance.CountDocuments(ctx, bson.M{"_id": key})
	if err != nil {
		return false, apperr.StoreUnreachable("mongodb", err)
	}
	return count > 0, nil
}

// ListAttendanceByDate returns all records for one calendar day.
func (a *RemoteAdapter) ListAttendanceByDate(ctx context.Context, date string) ([]domain.AttendanceRecord, error) {
	cursor, err := a.attendance.Find(ctx, bson.M{"date": date})
	if err != nil {
		return nil, apperr.StoreUnreachable("mongodb", err)
	}
	defer cursor.Close(ctx)

	records := []domain.AttendanceRecord{}
	for cursor.Next(ctx) {
		var doc attendanceDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, apperr.StoreUnreachable("mongodb", err)
		}
		records = append(records, domain.AttendanceRecord{
			PrefectID: doc.PrefectID,
			Date:      doc.Date,
			Timestamp: doc.Timestamp,
			MarkedBy:  doc.MarkedBy,
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, apperr.StoreUnreachable("mongodb", err)
	}
	return records, nil
}

// =============================================================================
// Conversion Helpers
// =============================================================================

func toPrefect(doc *prefectDocument) domain.Prefect {
	return domain.Prefect{
		ID:              doc.ID,
		Name:            doc.Name,
		Profile:         doc.Profile,
		TotalAttendance: doc.TotalAttendance,
		CreatedAt:       doc.CreatedAt,
		CreatedBy:       doc.CreatedBy,
		UpdatedAt:       doc.UpdatedAt,
		UpdatedBy:       doc.UpdatedBy,
	}
}

// Ensure RemoteAdapter implements the port
var _ out.RemoteStore = (*RemoteAdapter)(nil)
