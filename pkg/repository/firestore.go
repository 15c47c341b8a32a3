package repository

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/camuchapp/storeassist/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	firestoreEmbeddingField = "embedding"
	firestoreDistanceField  = "vector_distance"
)

// Firestore is a VectorStore backed by Firestore vector search. A collection exists once it holds a document.
type Firestore struct {
	client *firestore.Client
}

func NewFirestore(ctx context.Context, projectID, databaseID string) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project_id", projectID),
			goerr.V("database_id", databaseID))
	}
	return &Firestore{client: client}, nil
}

func (f *Firestore) Close() error {
	return f.client.Close()
}

func (f *Firestore) Collection(ctx context.Context, name string) (VectorCollection, error) {
	coll := f.client.Collection(name)

	iter := coll.Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil {
		if err == iterator.Done {
			return nil, goerr.Wrap(model.ErrCollectionNotFound, "firestore collection is empty", goerr.V("collection", name))
		}
		return nil, goerr.Wrap(err, "failed to probe firestore collection", goerr.V("collection", name))
	}

	return &firestoreCollection{client: f.client, coll: coll}, nil
}

func (f *Firestore) EnsureCollection(ctx context.Context, name string) (VectorCollection, error) {
	return &firestoreCollection{client: f.client, coll: f.client.Collection(name)}, nil
}

type firestoreCollection struct {
	client *firestore.Client
	coll   *firestore.CollectionRef
}

func (c *firestoreCollection) Query(ctx context.Context, vector []float32, k int) ([]*model.Document, error) {
	vq := c.coll.FindNearest(firestoreEmbeddingField, firestore.Vector32(vector), k, firestore.DistanceMeasureCosine,
		&firestore.FindNearestOptions{DistanceResultField: firestoreDistanceField})

	iter := vq.Documents(ctx)
	defer iter.Stop()

	var docs []*model.Document
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if status.Code(err) == codes.FailedPrecondition {
			return nil, goerr.Wrap(model.ErrCollectionNotFound, "vector index is missing",
				goerr.V("collection", c.coll.ID),
				goerr.V("field", firestoreEmbeddingField),
				goerr.V("cause", err.Error()))
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to run nearest query", goerr.V("collection", c.coll.ID))
		}

		var doc model.Document
		if err := snap.DataTo(&doc); err != nil {
			return nil, goerr.Wrap(err, "failed to decode document", goerr.V("id", snap.Ref.ID))
		}
		if doc.ID == "" {
			doc.ID = snap.Ref.ID
		}
		if distance, ok := snap.Data()[firestoreDistanceField].(float64); ok {
			doc.Similarity = 1 - distance
		}
		docs = append(docs, &doc)
	}

	return docs, nil
}

func (c *firestoreCollection) Upsert(ctx context.Context, docs []*model.Document) error {
	if len(docs) == 0 {
		return nil
	}

	bw := c.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(docs))
	for _, doc := range docs {
		job, err := bw.Set(c.coll.Doc(doc.ID), doc)
		if err != nil {
			bw.End()
			return goerr.Wrap(err, "failed to enqueue document", goerr.V("id", doc.ID))
		}
		jobs = append(jobs, job)
	}
	bw.End()

	for i, job := range jobs {
		if _, err := job.Results(); err != nil {
			return goerr.Wrap(err, "failed to write document", goerr.V("id", docs[i].ID))
		}
	}
	return nil
}
