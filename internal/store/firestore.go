package store

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/documentcapture/internal/models"
	"google.golang.org/api/iterator"
)

// FirestoreStore keeps one document per record, keyed by record id.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

func NewFirestoreStore(client *firestore.Client, collection string) *FirestoreStore {
	return &FirestoreStore{client: client, collection: collection}
}

func (s *FirestoreStore) Save(ctx context.Context, rec models.UploadRecord) error {
	doc, err := toStored(rec)
	if err != nil {
		return err
	}
	if _, err := s.client.Collection(s.collection).Doc(rec.ID).Set(ctx, doc); err != nil {
		return fmt.Errorf("firestore: save %s: %w", rec.ID, err)
	}
	return nil
}

func (s *FirestoreStore) Delete(ctx context.Context, id string) error {
	if _, err := s.client.Collection(s.collection).Doc(id).Delete(ctx); err != nil {
		return fmt.Errorf("firestore: delete %s: %w", id, err)
	}
	return nil
}

func (s *FirestoreStore) DeleteAll(ctx context.Context) error {
	iter := s.client.Collection(s.collection).Documents(ctx)
	defer iter.Stop()
	deleted := 0
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return fmt.Errorf("firestore: list %s: %w", s.collection, err)
		}
		if _, err := doc.Ref.Delete(ctx); err != nil {
			return fmt.Errorf("firestore: delete %s: %w", doc.Ref.ID, err)
		}
		deleted++
	}
	slog.Info("Cleared Firestore collection.", "collection", s.collection, "deleted", deleted)
	return nil
}

// LoadTerminal returns success and error records ordered by creation time.
func (s *FirestoreStore) LoadTerminal(ctx context.Context) ([]models.UploadRecord, error) {
	iter := s.client.Collection(s.collection).
		Where("status", "in", []string{string(models.StatusSuccess), string(models.StatusError)}).
		Documents(ctx)
	defer iter.Stop()

	var out []models.UploadRecord
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore: query %s: %w", s.collection, err)
		}
		var stored storedRecord
		if err := doc.DataTo(&stored); err != nil {
			return nil, fmt.Errorf("firestore: decode %s: %w", doc.Ref.ID, err)
		}
		rec, err := stored.record()
		if err != nil {
			slog.Warn("Skipping unreadable stored record.", "id", doc.Ref.ID, "error", err)
			continue
		}
		out = append(out, rec)
	}
	slices.SortStableFunc(out, func(a, b models.UploadRecord) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}
