package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"reminder-engine/internal/reminder"
)

// MongoBackend implements Backend on two MongoDB collections.
type MongoBackend struct {
	client              *mongo.Client
	database            *mongo.Database
	reminderCollection  *mongo.Collection
	completedCollection *mongo.Collection
}

type mongoReminder struct {
	ID       string            `bson:"_id"`
	Position int               `bson:"position"`
	Reminder reminder.Reminder `bson:"reminder"`
}

type mongoCompleted struct {
	ReminderID  string                     `bson:"reminder_id"`
	CompletedAt time.Time                  `bson:"completed_at"`
	Completed   reminder.CompletedReminder `bson:"completed"`
}

// NewMongoBackend connects to MongoDB and verifies the connection.
func NewMongoBackend(ctx context.Context, connectionString, databaseName string) (*MongoBackend, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connectionString))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	database := client.Database(databaseName)
	return &MongoBackend{
		client:              client,
		database:            database,
		reminderCollection:  database.Collection("reminders"),
		completedCollection: database.Collection("completed_reminders"),
	}, nil
}

// Close closes the MongoDB connection
func (ms *MongoBackend) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return ms.client.Disconnect(ctx)
}

func (ms *MongoBackend) LoadActive(ctx context.Context) ([]reminder.Reminder, LoadReport, error) {
	report := LoadReport{Source: SourcePrimary}
	opts := options.Find().SetSort(bson.D{{Key: "position", Value: 1}})
	cursor, err := ms.reminderCollection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, report, fmt.Errorf("failed to list reminders: %w", err)
	}
	defer cursor.Close(ctx)

	list := []reminder.Reminder{}
	for cursor.Next(ctx) {
		var doc mongoReminder
		if err := cursor.Decode(&doc); err != nil {
			report.Warnings = append(report.Warnings, reminder.CorruptData("skipping undecodable reminder document", err))
			continue
		}
		if doc.Reminder.Updates == nil {
			doc.Reminder.Updates = reminder.ProgressLog{}
		}
		list = append(list, doc.Reminder)
	}
	if err := cursor.Err(); err != nil {
		return nil, report, fmt.Errorf("cursor error: %w", err)
	}
	return list, report, nil
}

// SaveActive upserts every reminder and drops the ones no longer present in a
// single ordered bulk write, so the collection is never observed empty.
func (ms *MongoBackend) SaveActive(ctx context.Context, reminders []reminder.Reminder) error {
	ids := make([]string, 0, len(reminders))
	models := make([]mongo.WriteModel, 0, len(reminders)+1)
	for i, r := range reminders {
		ids = append(ids, r.ID)
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": r.ID}).
			SetReplacement(mongoReminder{ID: r.ID, Position: i, Reminder: r}).
			SetUpsert(true))
	}
	models = append(models, mongo.NewDeleteManyModel().SetFilter(bson.M{"_id": bson.M{"$nin": ids}}))

	if _, err := ms.reminderCollection.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true)); err != nil {
		return fmt.Errorf("failed to save reminders: %w", err)
	}
	return nil
}

func (ms *MongoBackend) LoadCompleted(ctx context.Context) ([]reminder.CompletedReminder, error) {
	opts := options.Find().SetSort(bson.D{{Key: "completed_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := ms.completedCollection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list completed reminders: %w", err)
	}
	defer cursor.Close(ctx)

	list := []reminder.CompletedReminder{}
	for cursor.Next(ctx) {
		var doc mongoCompleted
		if err := cursor.Decode(&doc); err != nil {
			return list, reminder.CorruptData("undecodable completed reminder document", err)
		}
		if doc.Completed.Updates == nil {
			doc.Completed.Updates = reminder.ProgressLog{}
		}
		list = append(list, doc.Completed)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return list, nil
}

func (ms *MongoBackend) AppendCompleted(ctx context.Context, c reminder.CompletedReminder) error {
	doc := mongoCompleted{ReminderID: c.ID, CompletedAt: c.CompletedAt, Completed: c}
	if _, err := ms.completedCollection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to insert completed reminder: %w", err)
	}
	return nil
}
