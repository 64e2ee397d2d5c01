package main

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"social_fed/internal/config"
	"social_fed/internal/model"
	contactRepo "social_fed/internal/repository/contact"
	participationRepo "social_fed/internal/repository/participation"
	relaysubRepo "social_fed/internal/repository/relaysub"
	userRepo "social_fed/internal/repository/user"
	"social_fed/internal/service/queue"
	redisSvc "social_fed/internal/service/redis"
	"social_fed/internal/service/relay"
	"social_fed/internal/service/resolver"
	"social_fed/internal/utils/log"
)

// One-shot sender: post a status message as a local user, either to the
// public batch channel of a recipient's server or privately to one
// recipient handle.
func main() {
	if len(os.Args) < 3 {
		log.Fatal("usage: client <sender-handle> <text> [recipient-handle]")
	}

	senderHandle := os.Args[1]
	text := os.Args[2]
	recipientHandle := ""
	if len(os.Args) > 3 {
		recipientHandle = os.Args[3]
	}

	cfg, err := config.LoadFile("social_fed.toml")
	if err != nil {
		log.Fatal("loading config failed", zap.Error(err))
	}

	mongoDBClient, err := initMongo(cfg.MongoURI)
	if err != nil {
		log.Fatal("connecting to mongo failed", zap.Error(err))
	}

	db := mongoDBClient.Database("social_fed")

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})

	cache := redisSvc.NewRedis(rdb)

	contacts := contactRepo.NewRepo(db)
	localContacts := contactRepo.NewLocalRepo(db)
	participations := participationRepo.NewRepo(db)
	subs := relaysubRepo.NewRepo(db)
	users := userRepo.NewUserRepo(db)

	httpClient := &http.Client{Timeout: 30 * time.Second}
	res := resolver.NewResolver(contacts, httpClient)
	deliveryQueue := queue.NewQueue(cache)
	engine := relay.NewEngine(cfg, contacts, localContacts, res, participations, subs, deliveryQueue, httpClient)

	ctx := context.Background()

	sender, err := users.GetByHandle(ctx, senderHandle)
	if err != nil || sender == nil {
		log.Fatal("sender not found", zap.String("handle", senderHandle), zap.Error(err))
	}

	msg := &model.Message{Type: model.TypeStatusMessage}
	msg.Add("author", sender.Handle)
	msg.Add("guid", uuid.NewString())
	msg.Add("created_at", time.Now().UTC().Format(time.RFC3339))
	msg.Add("text", text)
	msg.Add("public", strconv.FormatBool(recipientHandle == ""))

	if recipientHandle == "" {
		if err := engine.DistributePublic(ctx, sender, msg, nil); err != nil {
			log.Fatal("public distribution failed", zap.Error(err))
		}
		log.Info("distributed", zap.String("guid", msg.GUID()))
		return
	}

	recipient, err := res.Contact(ctx, recipientHandle)
	if err != nil {
		log.Fatal("recipient resolution failed", zap.String("handle", recipientHandle), zap.Error(err))
	}

	status, err := engine.BuildAndTransmit(ctx, sender, msg, recipient, false, false)
	if err != nil {
		log.Fatal("delivery failed", zap.Int("status", status), zap.Error(err))
	}
	log.Info("delivered", zap.Int("status", status), zap.String("guid", msg.GUID()))
}

func initMongo(uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	return client, client.Ping(ctx, nil)
}
