package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const ratingsBucket = "ratings"

// ErrRatingNotFound is returned when no rating exists for a query.
var ErrRatingNotFound = errors.New("rating not found")

// Rating records the outcome of one answered query together with the user's
// thumbs-up/down verdict.
type Rating struct {
	Query      string  `json:"query"`
	Answer     string  `json:"answer"`
	Iterations int     `json:"iterations"`
	Cost       float64 `json:"cost"`
	// Score is 1 for a useful answer, 0 otherwise.
	Score      int       `json:"score"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Bolt provides a BoltDB-backed rating store keyed by query text.
type Bolt struct {
	DB *bolt.DB
}

// NewBolt opens (or creates) the database file at path and ensures the
// ratings bucket exists.
func NewBolt(path string) (Bolt, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return Bolt{}, fmt.Errorf("failed to open bolt database: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(ratingsBucket))
		return err
	}); err != nil {
		return Bolt{}, fmt.Errorf("failed to create ratings bucket: %w", err)
	}

	return Bolt{DB: db}, nil
}

// SaveRating creates or replaces the rating for its query. RecordedAt is set
// to the current time.
func (b Bolt) SaveRating(rating Rating) error {
	if rating.Score != 0 && rating.Score != 1 {
		return fmt.Errorf("score must be 0 or 1, got %d", rating.Score)
	}
	rating.RecordedAt = time.Now()

	return b.DB.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ratingsBucket))

		data, err := json.Marshal(rating)
		if err != nil {
			return fmt.Errorf("failed to marshal rating: %w", err)
		}
		if err := bucket.Put([]byte(rating.Query), data); err != nil {
			return fmt.Errorf("failed to put rating: %w", err)
		}

		return nil
	})
}

// Rating retrieves the rating for a query.
func (b Bolt) Rating(query string) (Rating, error) {
	var result Rating

	err := b.DB.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ratingsBucket))

		data := bucket.Get([]byte(query))
		if data == nil {
			return ErrRatingNotFound
		}

		return json.Unmarshal(data, &result)
	})

	return result, err
}

// Queries lists all rated query strings.
func (b Bolt) Queries() ([]string, error) {
	result := []string{}

	err := b.DB.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ratingsBucket))

		return bucket.ForEach(func(k, _ []byte) error {
			result = append(result, string(k))
			return nil
		})
	})

	return result, err
}

// DeleteRating removes the rating for a query; deleting a missing rating is
// not an error.
func (b Bolt) DeleteRating(query string) error {
	return b.DB.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(ratingsBucket)).Delete([]byte(query))
	})
}

// ClearRatings removes every rating.
func (b Bolt) ClearRatings() error {
	return b.DB.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(ratingsBucket)); err != nil {
			return fmt.Errorf("failed to delete ratings bucket: %w", err)
		}
		_, err := tx.CreateBucket([]byte(ratingsBucket))
		return err
	})
}

// Close closes the underlying database file.
func (b Bolt) Close() error {
	return b.DB.Close()
}
