package weightsearch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/burenotti/healthlog/internal/domain"
	"github.com/burenotti/healthlog/internal/domain/weight"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	DefaultCollection = "weights"

	idxKeywordsText = "WeightKeywordsText"
	idxDateTime     = "WeightDateTime"
)

var ErrIndexUnavailable = errors.New("weight search index unavailable")

// sortFields maps sortable JSON attributes to document fields.
var sortFields = map[string]string{
	"id":       "_id",
	"dateTime": "dateTime",
	"value":    "value",
}

var weightIndexes = []mongo.IndexModel{
	{
		Keys:    bson.D{{Key: "keywords", Value: "text"}},
		Options: options.Index().SetName(idxKeywordsText).SetDefaultLanguage("none"),
	},
	{
		Keys:    bson.D{{Key: "dateTime", Value: -1}},
		Options: options.Index().SetName(idxDateTime),
	},
}

type document struct {
	ID         int64     `bson:"_id"`
	DateTime   time.Time `bson:"dateTime"`
	Value      float64   `bson:"value"`
	OwnerID    *int64    `bson:"ownerId,omitempty"`
	OwnerLogin string    `bson:"ownerLogin,omitempty"`
	Keywords   string    `bson:"keywords"`
}

// MongoIndex mirrors weights into a mongo collection with a text index.
type MongoIndex struct {
	coll *mongo.Collection
}

func NewMongoIndex(db *mongo.Database, collection string) *MongoIndex {
	if collection == "" {
		collection = DefaultCollection
	}
	return &MongoIndex{coll: db.Collection(collection)}
}

// EnsureIndexes creates the text and date indexes the queries rely on.
func (m *MongoIndex) EnsureIndexes(ctx context.Context) error {
	if _, err := m.coll.Indexes().CreateMany(ctx, weightIndexes); err != nil {
		return indexError("create indexes", err)
	}
	return nil
}

func (m *MongoIndex) Save(ctx context.Context, w *weight.Weight) error {
	doc := toDocument(w)
	_, err := m.coll.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return indexError("save", err)
	}
	return nil
}

func (m *MongoIndex) SaveMany(ctx context.Context, ws []*weight.Weight) error {
	if len(ws) == 0 {
		return nil
	}
	models := lo.Map(ws, func(w *weight.Weight, _ int) mongo.WriteModel {
		doc := toDocument(w)
		return mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": doc.ID}).
			SetReplacement(doc).
			SetUpsert(true)
	})
	if _, err := m.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
		return indexError("save many", err)
	}
	return nil
}

func (m *MongoIndex) Delete(ctx context.Context, id int64) error {
	if _, err := m.coll.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return indexError("delete", err)
	}
	return nil
}

// Reset removes every document, keeping the indexes.
func (m *MongoIndex) Reset(ctx context.Context) error {
	if _, err := m.coll.DeleteMany(ctx, bson.M{}); err != nil {
		return indexError("reset", err)
	}
	return nil
}

func (m *MongoIndex) Search(
	ctx context.Context,
	query string,
	req domain.PageRequest,
) (domain.Page[*weight.Weight], error) {
	page := domain.Page[*weight.Weight]{Page: req.Page, Size: req.Size, Items: []*weight.Weight{}}

	filter, textual := buildSearchFilter(query)

	total, err := m.coll.CountDocuments(ctx, filter)
	if err != nil {
		return page, indexError("count", err)
	}
	page.Total = total

	opts := options.Find().
		SetSkip(int64(req.Offset())).
		SetLimit(int64(req.Size)).
		SetSort(buildSort(req.Sort, textual))
	if textual {
		opts.SetProjection(bson.M{"score": bson.M{"$meta": "textScore"}})
	}

	cursor, err := m.coll.Find(ctx, filter, opts)
	if err != nil {
		return page, indexError("find", err)
	}

	var docs []document
	if err := cursor.All(ctx, &docs); err != nil {
		return page, indexError("decode", err)
	}

	page.Items = lo.Map(docs, func(d document, _ int) *weight.Weight {
		return d.toDomain()
	})
	return page, nil
}

// Keywords is the text indexed for a weight: owner login, value and measurement day.
func Keywords(w *weight.Weight) string {
	parts := []string{
		strconv.FormatFloat(w.Value, 'f', -1, 64),
		w.DateTime.UTC().Format(time.DateOnly),
	}
	if w.OwnerLogin != "" {
		parts = append([]string{w.OwnerLogin}, parts...)
	}
	return strings.ToLower(strings.Join(parts, " "))
}

// IsMatchAll reports whether query selects every document.
func IsMatchAll(query string) bool {
	q := strings.TrimSpace(query)
	return q == "" || q == "*"
}

func buildSearchFilter(query string) (bson.M, bool) {
	if IsMatchAll(query) {
		return bson.M{}, false
	}
	return bson.M{"$text": bson.M{"$search": strings.TrimSpace(query)}}, true
}

func buildSort(orders []domain.Order, textual bool) bson.D {
	if len(orders) == 0 {
		if textual {
			return bson.D{
				{Key: "score", Value: bson.M{"$meta": "textScore"}},
				{Key: "_id", Value: 1},
			}
		}
		return bson.D{{Key: "_id", Value: 1}}
	}

	sort := make(bson.D, 0, len(orders))
	for _, o := range orders {
		dir := 1
		if o.Desc {
			dir = -1
		}
		sort = append(sort, bson.E{Key: sortFields[o.Field], Value: dir})
	}
	return sort
}

func toDocument(w *weight.Weight) document {
	doc := document{
		ID:         w.ID,
		DateTime:   w.DateTime.UTC(),
		Value:      w.Value,
		OwnerLogin: w.OwnerLogin,
		Keywords:   Keywords(w),
	}
	if w.UserID != nil {
		id := *w.UserID
		doc.OwnerID = &id
	}
	return doc
}

func (d document) toDomain() *weight.Weight {
	w := &weight.Weight{
		ID:       d.ID,
		DateTime: d.DateTime.UTC(),
		Value:    d.Value,
	}
	if d.OwnerID != nil {
		w.AssignOwner(*d.OwnerID, d.OwnerLogin)
	}
	return w
}

func indexError(op string, err error) error {
	return errors.Join(fmt.Errorf("weight index %s: %w", op, err), ErrIndexUnavailable)
}
