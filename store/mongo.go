package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"houseparty-server/models"
	"houseparty-server/utils/logger"
)

// NewMongo connects to MongoDB and makes sure the indexes exist. Index
// creation failures are logged, not fatal, so a read-only replica still boots.
func NewMongo(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	db := client.Database(database)

	s := &Store{
		Users:       &MongoUsers{coll: db.Collection("users")},
		OTPs:        &MongoOTPs{coll: db.Collection("otps")},
		Invitations: &MongoInvitations{coll: db.Collection("invitations")},
		Parties:     &MongoParties{coll: db.Collection("parties")},
		closer:      client.Disconnect,
		pinger:      func(ctx context.Context) error { return client.Ping(ctx, nil) },
	}
	ensureIndexes(ctx, db)
	return s, nil
}

func ensureIndexes(ctx context.Context, db *mongo.Database) {
	log := logger.FromContext(ctx)
	unique := func(field string) mongo.IndexModel {
		return mongo.IndexModel{Keys: bson.D{{Key: field, Value: 1}}, Options: options.Index().SetUnique(true)}
	}
	// expireAfterSeconds 0 removes the document once expires_at passes.
	ttl := mongo.IndexModel{Keys: bson.D{{Key: "expires_at", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0)}

	indexes := map[string][]mongo.IndexModel{
		"users": {
			unique("username"), unique("email"), unique("phone"),
			{Keys: bson.D{{Key: "is_in_house", Value: 1}}},
		},
		"otps": {
			ttl,
			{Keys: bson.D{{Key: "email", Value: 1}, {Key: "purpose", Value: 1}}},
		},
		"invitations": {
			ttl,
			{Keys: bson.D{{Key: "receiver_id", Value: 1}, {Key: "kind", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "sender_id", Value: 1}, {Key: "receiver_id", Value: 1}, {Key: "kind", Value: 1}}},
		},
		"parties": {
			unique("channel"),
			{Keys: bson.D{{Key: "is_active", Value: 1}, {Key: "created_at", Value: -1}}},
		},
	}
	for name, idx := range indexes {
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, idx); err != nil {
			log.WithError(err).WithField("collection", name).Warn("failed to create indexes")
		}
	}
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return ErrConflict
	}
	return err
}

type MongoUsers struct {
	coll *mongo.Collection
}

func (m *MongoUsers) Create(ctx context.Context, user *models.User) error {
	_, err := m.coll.InsertOne(ctx, user)
	return translate(err)
}

func (m *MongoUsers) findOne(ctx context.Context, filter bson.M) (*models.User, error) {
	var u models.User
	if err := m.coll.FindOne(ctx, filter).Decode(&u); err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (m *MongoUsers) findMany(ctx context.Context, filter bson.M, opts ...*options.FindOptions) ([]*models.User, error) {
	cur, err := m.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	var users []*models.User
	if err := cur.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (m *MongoUsers) FindByID(ctx context.Context, id string) (*models.User, error) {
	return m.findOne(ctx, bson.M{"_id": id})
}

func (m *MongoUsers) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return m.findOne(ctx, bson.M{"email": email})
}

func (m *MongoUsers) FindByPhone(ctx context.Context, phone string) (*models.User, error) {
	return m.findOne(ctx, bson.M{"phone": phone})
}

func (m *MongoUsers) FindConflicts(ctx context.Context, email, username, phone string) ([]*models.User, error) {
	or := bson.A{bson.M{"email": email}, bson.M{"username": username}}
	if phone != "" {
		or = append(or, bson.M{"phone": phone})
	}
	return m.findMany(ctx, bson.M{"$or": or})
}

func (m *MongoUsers) FindByIDs(ctx context.Context, ids []string) ([]*models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return m.findMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
}

func (m *MongoUsers) Search(ctx context.Context, query string, exclude []string, limit int) ([]*models.User, error) {
	pattern := bson.M{"$regex": regexp.QuoteMeta(query), "$options": "i"}
	filter := bson.M{
		"$or": bson.A{
			bson.M{"username": pattern},
			bson.M{"email": pattern},
			bson.M{"phone": pattern},
		},
	}
	if len(exclude) > 0 {
		filter["_id"] = bson.M{"$nin": exclude}
	}
	opts := options.Find().SetSort(bson.D{{Key: "username", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return m.findMany(ctx, filter, opts)
}

func (m *MongoUsers) updateOne(ctx context.Context, id string, update bson.M) error {
	if set, ok := update["$set"].(bson.M); ok {
		set["updated_at"] = time.Now()
	} else {
		update["$set"] = bson.M{"updated_at": time.Now()}
	}
	res, err := m.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return translate(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *MongoUsers) SetEmailVerified(ctx context.Context, id string) error {
	return m.updateOne(ctx, id, bson.M{"$set": bson.M{"is_email_verified": true}})
}

func (m *MongoUsers) SetPasswordHash(ctx context.Context, id, hash string) error {
	return m.updateOne(ctx, id, bson.M{"$set": bson.M{"password_hash": hash}})
}

func (m *MongoUsers) UpdateProfile(ctx context.Context, id string, username, profilePicture *string) error {
	set := bson.M{}
	if username != nil {
		set["username"] = *username
	}
	if profilePicture != nil {
		set["profile_picture"] = *profilePicture
	}
	return m.updateOne(ctx, id, bson.M{"$set": set})
}

func (m *MongoUsers) UpdateSettings(ctx context.Context, id string, settings models.Settings) error {
	return m.updateOne(ctx, id, bson.M{"$set": bson.M{"settings": settings}})
}

func (m *MongoUsers) AddDeviceToken(ctx context.Context, id, token string) error {
	return m.updateOne(ctx, id, bson.M{"$addToSet": bson.M{"device_tokens": token}})
}

func (m *MongoUsers) RemoveDeviceTokens(ctx context.Context, id string, tokens ...string) error {
	return m.updateOne(ctx, id, bson.M{"$pull": bson.M{"device_tokens": bson.M{"$in": tokens}}})
}

func (m *MongoUsers) AddFriendship(ctx context.Context, a, b string) error {
	if err := m.updateOne(ctx, a, bson.M{"$addToSet": bson.M{"friends": b}}); err != nil {
		return err
	}
	return m.updateOne(ctx, b, bson.M{"$addToSet": bson.M{"friends": a}})
}

func (m *MongoUsers) RemoveFriendship(ctx context.Context, a, b string) error {
	_, err := m.coll.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": bson.A{a, b}}},
		bson.M{"$pull": bson.M{"friends": bson.M{"$in": bson.A{a, b}}}},
	)
	return translate(err)
}

func (m *MongoUsers) SetPresence(ctx context.Context, id string, inHouse bool, at time.Time) error {
	return m.updateOne(ctx, id, bson.M{"$set": bson.M{"is_in_house": inHouse, "last_active": at}})
}

type MongoOTPs struct {
	coll *mongo.Collection
}

func (m *MongoOTPs) Replace(ctx context.Context, otp *models.OTP) error {
	if _, err := m.coll.DeleteMany(ctx, bson.M{"email": otp.Email, "purpose": otp.Purpose}); err != nil {
		return translate(err)
	}
	_, err := m.coll.InsertOne(ctx, otp)
	return translate(err)
}

func (m *MongoOTPs) FindActive(ctx context.Context, email string, purpose models.OTPPurpose, now time.Time) (*models.OTP, error) {
	var o models.OTP
	err := m.coll.FindOne(ctx, bson.M{
		"email":      email,
		"purpose":    purpose,
		"expires_at": bson.M{"$gt": now},
	}).Decode(&o)
	if err != nil {
		return nil, translate(err)
	}
	return &o, nil
}

func (m *MongoOTPs) IncrementAttempts(ctx context.Context, id string) (int, error) {
	var o models.OTP
	err := m.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$inc": bson.M{"attempts": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&o)
	if err != nil {
		return 0, translate(err)
	}
	return o.Attempts, nil
}

func (m *MongoOTPs) Delete(ctx context.Context, id string) error {
	res, err := m.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return translate(err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *MongoOTPs) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := m.coll.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": now}})
	if err != nil {
		return 0, translate(err)
	}
	return res.DeletedCount, nil
}

type MongoInvitations struct {
	coll *mongo.Collection
}

func (m *MongoInvitations) Create(ctx context.Context, inv *models.Invitation) error {
	_, err := m.coll.InsertOne(ctx, inv)
	return translate(err)
}

func (m *MongoInvitations) FindByID(ctx context.Context, id string) (*models.Invitation, error) {
	var inv models.Invitation
	if err := m.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&inv); err != nil {
		return nil, translate(err)
	}
	return &inv, nil
}

func (m *MongoInvitations) FindPending(ctx context.Context, kind models.InvitationKind, senderID, receiverID string, now time.Time) (*models.Invitation, error) {
	var inv models.Invitation
	err := m.coll.FindOne(ctx, bson.M{
		"kind":        kind,
		"sender_id":   senderID,
		"receiver_id": receiverID,
		"status":      models.StatusPending,
		"expires_at":  bson.M{"$gt": now},
	}).Decode(&inv)
	if err != nil {
		return nil, translate(err)
	}
	return &inv, nil
}

func (m *MongoInvitations) ListPendingFor(ctx context.Context, receiverID string, kind models.InvitationKind, now time.Time) ([]*models.Invitation, error) {
	cur, err := m.coll.Find(ctx, bson.M{
		"kind":        kind,
		"receiver_id": receiverID,
		"status":      models.StatusPending,
		"expires_at":  bson.M{"$gt": now},
	}, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	var out []*models.Invitation
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *MongoInvitations) Transition(ctx context.Context, id string, from, to models.InvitationStatus, now time.Time) error {
	res, err := m.coll.UpdateOne(ctx,
		bson.M{"_id": id, "status": from},
		bson.M{"$set": bson.M{"status": to, "updated_at": now}},
	)
	if err != nil {
		return translate(err)
	}
	if res.MatchedCount == 0 {
		if _, err := m.FindByID(ctx, id); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

func (m *MongoInvitations) ExpirePending(ctx context.Context, now time.Time) (int64, error) {
	res, err := m.coll.UpdateMany(ctx,
		bson.M{"status": models.StatusPending, "expires_at": bson.M{"$lte": now}},
		bson.M{"$set": bson.M{"status": models.StatusExpired, "updated_at": now}},
	)
	if err != nil {
		return 0, translate(err)
	}
	return res.ModifiedCount, nil
}

type MongoParties struct {
	coll *mongo.Collection
}

func (m *MongoParties) Create(ctx context.Context, party *models.Party) error {
	_, err := m.coll.InsertOne(ctx, party)
	return translate(err)
}

func (m *MongoParties) FindByID(ctx context.Context, id string) (*models.Party, error) {
	var p models.Party
	if err := m.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&p); err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (m *MongoParties) Update(ctx context.Context, party *models.Party) error {
	set := bson.M{
		"host_id":      party.HostID,
		"participants": party.Participants,
		"is_active":    party.IsActive,
		"end_time":     party.EndTime,
		"version":      party.Version + 1,
	}
	res, err := m.coll.UpdateOne(ctx, bson.M{"_id": party.ID, "version": party.Version}, bson.M{"$set": set})
	if err != nil {
		return translate(err)
	}
	if res.MatchedCount == 0 {
		return ErrVersionConflict
	}
	party.Version++
	return nil
}

func (m *MongoParties) ListActiveInvolving(ctx context.Context, userIDs []string) ([]*models.Party, error) {
	cur, err := m.coll.Find(ctx, bson.M{
		"is_active": true,
		"$or": bson.A{
			bson.M{"host_id": bson.M{"$in": userIDs}},
			bson.M{"participants.user_id": bson.M{"$in": userIDs}},
		},
	}, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	var out []*models.Party
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
