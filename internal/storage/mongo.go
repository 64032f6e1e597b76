// internal/storage/mongo.go
// MongoDB implementation of the Store interface. Collections mirror the
// document shape of the model package one-to-one.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/trinetra-eo/cogcatalog/internal/model"
)

const (
	satellitesCollection = "satellites"
	productsCollection   = "products"
	cogsCollection       = "cogs"
	usersCollection      = "users"
)

type mongoStore struct {
	client     *mongo.Client
	satellites *mongo.Collection
	products   *mongo.Collection
	cogs       *mongo.Collection
	users      *mongo.Collection
}

// NewMongo connects to MongoDB, selects database and ensures the unique indexes.
func NewMongo(uri, database string) (Store, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	db := client.Database(database)
	s := &mongoStore{
		client:     client,
		satellites: db.Collection(satellitesCollection),
		products:   db.Collection(productsCollection),
		cogs:       db.Collection(cogsCollection),
		users:      db.Collection(usersCollection),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}
	return s, nil
}

func (s *mongoStore) ensureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)
	indexes := []struct {
		coll  *mongo.Collection
		model mongo.IndexModel
	}{
		{s.satellites, mongo.IndexModel{Keys: bson.D{{Key: "satelliteId", Value: 1}}, Options: unique}},
		{s.products, mongo.IndexModel{Keys: bson.D{
			{Key: "productId", Value: 1}, {Key: "satelliteId", Value: 1}, {Key: "processingLevel", Value: 1},
		}, Options: unique}},
		{s.cogs, mongo.IndexModel{Keys: bson.D{{Key: "satelliteId", Value: 1}, {Key: "aquisition_datetime", Value: -1}}}},
		{s.cogs, mongo.IndexModel{Keys: bson.D{{Key: "product", Value: 1}}}},
		{s.users, mongo.IndexModel{Keys: bson.D{{Key: "email", Value: 1}}, Options: unique}},
	}
	for _, idx := range indexes {
		if _, err := idx.coll.Indexes().CreateOne(ctx, idx.model); err != nil {
			return err
		}
	}
	return nil
}

// Close disconnects the client.
func (s *mongoStore) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.client.Disconnect(ctx)
}

func (s *mongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func mapMongoErr(err error, op string) error {
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return ErrConflict
	default:
		return fmt.Errorf("failed to %s: %w", op, err)
	}
}

func (s *mongoStore) CreateSatellite(ctx context.Context, sat model.Satellite) (*model.Satellite, error) {
	if sat.ID == "" {
		sat.ID = NewID()
	}
	now := time.Now().UTC()
	sat.Products = appendMissing(nil, sat.Products)
	sat.Cogs = appendMissing(nil, sat.Cogs)
	sat.CreatedAt, sat.UpdatedAt = now, now
	if _, err := s.satellites.InsertOne(ctx, sat); err != nil {
		return nil, mapMongoErr(err, "create satellite")
	}
	return &sat, nil
}

func (s *mongoStore) GetSatellite(ctx context.Context, satelliteID string) (*model.Satellite, error) {
	var sat model.Satellite
	if err := s.satellites.FindOne(ctx, bson.M{"satelliteId": satelliteID}).Decode(&sat); err != nil {
		return nil, mapMongoErr(err, "get satellite")
	}
	return &sat, nil
}

func (s *mongoStore) ListSatellites(ctx context.Context) ([]model.Satellite, error) {
	cur, err := s.satellites.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "satelliteId", Value: 1}}))
	if err != nil {
		return nil, mapMongoErr(err, "list satellites")
	}
	out := make([]model.Satellite, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, mapMongoErr(err, "decode satellites")
	}
	return out, nil
}

func (s *mongoStore) UpdateSatellite(ctx context.Context, satelliteID string, upd SatelliteUpdate) (*model.Satellite, error) {
	set := bson.M{"updatedAt": time.Now().UTC()}
	if upd.Name != nil {
		set["name"] = *upd.Name
	}
	if upd.Manufacturer != nil {
		set["manufacturer"] = *upd.Manufacturer
	}
	if upd.Orbit != nil {
		set["orbit"] = *upd.Orbit
	}
	var sat model.Satellite
	err := s.satellites.FindOneAndUpdate(ctx, bson.M{"satelliteId": satelliteID}, bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&sat)
	if err != nil {
		return nil, mapMongoErr(err, "update satellite")
	}
	return &sat, nil
}

func (s *mongoStore) DeleteSatellite(ctx context.Context, satelliteID string) error {
	res, err := s.satellites.DeleteOne(ctx, bson.M{"satelliteId": satelliteID})
	if err != nil {
		return mapMongoErr(err, "delete satellite")
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *mongoStore) AddSatelliteRefs(ctx context.Context, satelliteID string, productIDs, cogIDs []string) error {
	update := bson.M{
		"$addToSet": bson.M{
			"products": bson.M{"$each": nonNil(productIDs)},
			"cogs":     bson.M{"$each": nonNil(cogIDs)},
		},
		"$set": bson.M{"updatedAt": time.Now().UTC()},
	}
	res, err := s.satellites.UpdateOne(ctx, bson.M{"satelliteId": satelliteID}, update)
	if err != nil {
		return mapMongoErr(err, "update satellite refs")
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func productKeyFilter(key model.ProductKey) bson.M {
	return bson.M{
		"productId":       key.ProductID,
		"satelliteId":     key.SatelliteID,
		"processingLevel": key.ProcessingLevel,
	}
}

func (s *mongoStore) FindOrCreateProduct(ctx context.Context, key model.ProductKey, displayName string) (*model.Product, bool, error) {
	var (
		pr  model.Product
		id  = NewID()
		now = time.Now().UTC()
		err error
	)
	update := bson.M{"$setOnInsert": bson.M{
		"_id":                id,
		"isVisible":          true,
		"productDisplayName": displayName,
		"cogs":               bson.A{},
		"createdAt":          now,
		"updatedAt":          now,
	}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	// Two concurrent upserts can race on the unique index; the loser retries and finds the winner.
	for attempt := 0; attempt < 2; attempt++ {
		err = s.products.FindOneAndUpdate(ctx, productKeyFilter(key), update, opts).Decode(&pr)
		if err == nil || !mongo.IsDuplicateKeyError(err) {
			break
		}
	}
	if err != nil {
		return nil, false, mapMongoErr(err, "upsert product")
	}

	created := pr.ID == id
	if !created && pr.ProductDisplayName == "" && displayName != "" {
		_, err := s.products.UpdateOne(ctx,
			bson.M{"_id": pr.ID, "productDisplayName": bson.M{"$in": bson.A{"", nil}}},
			bson.M{"$set": bson.M{"productDisplayName": displayName, "updatedAt": now}})
		if err != nil {
			return nil, false, mapMongoErr(err, "backfill product display name")
		}
		pr.ProductDisplayName = displayName
	}
	return &pr, created, nil
}

func (s *mongoStore) CreateProduct(ctx context.Context, pr model.Product) (*model.Product, error) {
	now := time.Now().UTC()
	pr.ID = NewID()
	pr.Cogs = appendMissing(nil, pr.Cogs)
	pr.CreatedAt, pr.UpdatedAt = now, now
	if _, err := s.products.InsertOne(ctx, pr); err != nil {
		return nil, mapMongoErr(err, "create product")
	}
	return &pr, nil
}

func (s *mongoStore) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	var pr model.Product
	if err := s.products.FindOne(ctx, bson.M{"_id": id}).Decode(&pr); err != nil {
		return nil, mapMongoErr(err, "get product")
	}
	return &pr, nil
}

// productFilter translates a ProductQuery into a MongoDB filter document.
func productFilter(q ProductQuery) bson.M {
	f := bson.M{}
	inFilter(f, "_id", q.IDs)
	inFilter(f, "productId", q.ProductIDs)
	inFilter(f, "satelliteId", q.SatelliteIDs)
	inFilter(f, "processingLevel", q.ProcessingLevels)
	if q.VisibleOnly {
		f["isVisible"] = true
	}
	if q.CreatedFrom != nil || q.CreatedTo != nil {
		r := bson.M{}
		if q.CreatedFrom != nil {
			r["$gte"] = *q.CreatedFrom
		}
		if q.CreatedTo != nil {
			r["$lte"] = *q.CreatedTo
		}
		f["createdAt"] = r
	}
	return f
}

func inFilter(f bson.M, field string, values []string) {
	if len(values) > 0 {
		f[field] = bson.M{"$in": values}
	}
}

func (s *mongoStore) FindProducts(ctx context.Context, q ProductQuery) ([]model.Product, error) {
	field := q.SortBy
	if _, ok := productSortColumns[field]; !ok {
		field = "createdAt"
	}
	dir := 1
	if q.SortDesc {
		dir = -1
	}
	opts := options.Find().SetSort(bson.D{{Key: field, Value: dir}, {Key: "_id", Value: 1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	if q.Skip > 0 {
		opts.SetSkip(int64(q.Skip))
	}

	cur, err := s.products.Find(ctx, productFilter(q), opts)
	if err != nil {
		return nil, mapMongoErr(err, "find products")
	}
	out := make([]model.Product, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, mapMongoErr(err, "decode products")
	}
	return out, nil
}

func (s *mongoStore) CountProducts(ctx context.Context, q ProductQuery) (int, error) {
	n, err := s.products.CountDocuments(ctx, productFilter(q))
	if err != nil {
		return 0, mapMongoErr(err, "count products")
	}
	return int(n), nil
}

func (s *mongoStore) UpdateProduct(ctx context.Context, id string, upd ProductUpdate) (*model.Product, error) {
	set := bson.M{"updatedAt": time.Now().UTC()}
	if upd.ProductDisplayName != nil {
		set["productDisplayName"] = *upd.ProductDisplayName
	}
	if upd.IsVisible != nil {
		set["isVisible"] = *upd.IsVisible
	}
	var pr model.Product
	err := s.products.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&pr)
	if err != nil {
		return nil, mapMongoErr(err, "update product")
	}
	return &pr, nil
}

func (s *mongoStore) SetProductsVisibility(ctx context.Context, ids []string, visible bool) (int, error) {
	res, err := s.products.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": nonNil(ids)}, "isVisible": bson.M{"$ne": visible}},
		bson.M{"$set": bson.M{"isVisible": visible, "updatedAt": time.Now().UTC()}})
	if err != nil {
		return 0, mapMongoErr(err, "set product visibility")
	}
	return int(res.ModifiedCount), nil
}

func (s *mongoStore) DeleteProduct(ctx context.Context, id string) (*model.Product, int, error) {
	var pr model.Product
	if err := s.products.FindOneAndDelete(ctx, bson.M{"_id": id}).Decode(&pr); err != nil {
		return nil, 0, mapMongoErr(err, "delete product")
	}
	cur, err := s.cogs.Find(ctx, bson.M{"product": id}, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, 0, mapMongoErr(err, "find product cogs")
	}
	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, 0, mapMongoErr(err, "decode product cogs")
	}
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}

	res, err := s.cogs.DeleteMany(ctx, bson.M{"product": id})
	if err != nil {
		return nil, 0, mapMongoErr(err, "delete product cogs")
	}
	_, err = s.satellites.UpdateOne(ctx, bson.M{"satelliteId": pr.SatelliteID}, bson.M{
		"$pull": bson.M{"products": id, "cogs": bson.M{"$in": ids}},
		"$set":  bson.M{"updatedAt": time.Now().UTC()},
	})
	if err != nil {
		return nil, 0, mapMongoErr(err, "pull product from satellite")
	}
	return &pr, int(res.DeletedCount), nil
}

func (s *mongoStore) AddProductCogs(ctx context.Context, productID string, cogIDs []string) error {
	res, err := s.products.UpdateOne(ctx, bson.M{"_id": productID}, bson.M{
		"$addToSet": bson.M{"cogs": bson.M{"$each": nonNil(cogIDs)}},
		"$set":      bson.M{"updatedAt": time.Now().UTC()},
	})
	if err != nil {
		return mapMongoErr(err, "add product cogs")
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *mongoStore) InsertCog(ctx context.Context, cog model.Cog) error {
	if cog.ID == "" {
		cog.ID = NewID()
	}
	if cog.CreatedAt.IsZero() {
		cog.CreatedAt = time.Now().UTC()
	}
	if _, err := s.cogs.InsertOne(ctx, cog); err != nil {
		return mapMongoErr(err, "insert cog")
	}
	return nil
}

// cogFilter translates a CogQuery into a MongoDB filter document. The boolean
// result is false when the query can match nothing.
func cogFilter(q CogQuery) (bson.M, bool) {
	if q.RestrictProducts && len(q.ProductIDs) == 0 {
		return nil, false
	}
	f := bson.M{}
	inFilter(f, "_id", q.IDs)
	inFilter(f, "satelliteId", q.SatelliteIDs)
	inFilter(f, "processingLevel", q.ProcessingLevels)
	inFilter(f, "productCode", q.ProductCodes)
	inFilter(f, "type", q.Types)
	if q.RestrictProducts {
		inFilter(f, "product", q.ProductIDs)
	}
	if q.From != nil || q.To != nil {
		r := bson.M{}
		if q.From != nil {
			r["$gte"] = *q.From
		}
		if q.To != nil {
			r["$lte"] = *q.To
		}
		f["aquisition_datetime"] = r
	}
	return f, true
}

func (s *mongoStore) FindCogs(ctx context.Context, q CogQuery) ([]model.Cog, error) {
	f, ok := cogFilter(q)
	if !ok {
		return []model.Cog{}, nil
	}
	opts := options.Find()
	switch q.Sort {
	case SortAsc:
		opts.SetSort(bson.D{{Key: "aquisition_datetime", Value: 1}, {Key: "_id", Value: 1}})
	case SortDesc:
		opts.SetSort(bson.D{{Key: "aquisition_datetime", Value: -1}, {Key: "_id", Value: 1}})
	default:
		opts.SetSort(bson.D{{Key: "_id", Value: 1}})
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	if q.Skip > 0 {
		opts.SetSkip(int64(q.Skip))
	}

	cur, err := s.cogs.Find(ctx, f, opts)
	if err != nil {
		return nil, mapMongoErr(err, "find cogs")
	}
	out := make([]model.Cog, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, mapMongoErr(err, "decode cogs")
	}
	return out, nil
}

func (s *mongoStore) DeleteCogsBefore(ctx context.Context, cutoff int64) (int, error) {
	filter := bson.M{"aquisition_datetime": bson.M{"$lt": cutoff}}
	cur, err := s.cogs.Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return 0, mapMongoErr(err, "find expired cogs")
	}
	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return 0, mapMongoErr(err, "decode expired cogs")
	}
	if len(docs) == 0 {
		return 0, nil
	}
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}

	res, err := s.cogs.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return 0, mapMongoErr(err, "delete expired cogs")
	}
	pull := bson.M{"$pull": bson.M{"cogs": bson.M{"$in": ids}}}
	if _, err := s.products.UpdateMany(ctx, bson.M{"cogs": bson.M{"$in": ids}}, pull); err != nil {
		return 0, mapMongoErr(err, "pull expired cogs from products")
	}
	if _, err := s.satellites.UpdateMany(ctx, bson.M{"cogs": bson.M{"$in": ids}}, pull); err != nil {
		return 0, mapMongoErr(err, "pull expired cogs from satellites")
	}
	return int(res.DeletedCount), nil
}

func (s *mongoStore) CreateUser(ctx context.Context, u model.User) error {
	if _, err := s.users.InsertOne(ctx, u); err != nil {
		return mapMongoErr(err, "create user")
	}
	return nil
}

func (s *mongoStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	if err := s.users.FindOne(ctx, bson.M{"email": email}).Decode(&u); err != nil {
		return nil, mapMongoErr(err, "get user")
	}
	return &u, nil
}

func (s *mongoStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	if err := s.users.FindOne(ctx, bson.M{"_id": id}).Decode(&u); err != nil {
		return nil, mapMongoErr(err, "get user")
	}
	return &u, nil
}
