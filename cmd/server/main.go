package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"social_fed/internal/config"
	contactRepo "social_fed/internal/repository/contact"
	itemRepo "social_fed/internal/repository/item"
	participationRepo "social_fed/internal/repository/participation"
	relaysubRepo "social_fed/internal/repository/relaysub"
	userRepo "social_fed/internal/repository/user"
	"social_fed/internal/service/queue"
	"social_fed/internal/service/receiver"
	redisSvc "social_fed/internal/service/redis"
	"social_fed/internal/service/relay"
	"social_fed/internal/service/resolver"
	"social_fed/internal/service/server"
	"social_fed/internal/utils/log"
)

func main() {
	configPath := flag.String("config", "social_fed.toml", "path to the config file")
	flag.Parse()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		log.Fatal("loading config failed", zap.Error(err))
	}

	mongoDBClient, err := initMongo(cfg.MongoURI)
	if err != nil {
		log.Fatal("connecting to mongo failed", zap.Error(err))
	}

	db := mongoDBClient.Database("social_fed")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: "", // no password by default
		DB:       0,  // use default DB
	})

	cache := redisSvc.NewRedis(rdb)

	contacts := contactRepo.NewRepo(db)
	localContacts := contactRepo.NewLocalRepo(db)
	items := itemRepo.NewRepo(db)
	participations := participationRepo.NewRepo(db)
	subs := relaysubRepo.NewRepo(db)
	users := userRepo.NewUserRepo(db)

	httpClient := &http.Client{Timeout: 30 * time.Second}
	res := resolver.NewResolver(contacts, httpClient)
	deliveryQueue := queue.NewQueue(cache)
	engine := relay.NewEngine(cfg, contacts, localContacts, res, participations, subs, deliveryQueue, httpClient)
	rcv := receiver.NewReceiver(cfg, res, items, users, cache, participations, contacts, engine)

	s := server.NewHttpServer(cfg, rcv, items, users)
	go func() {
		if err := s.Run(); err != nil {
			log.Fatal("http server stopped", zap.Error(err))
		}
	}()
	log.Info("federation node listening",
		zap.String("addr", cfg.ListenAddr), zap.String("domain", cfg.Domain))

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)
	<-done
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
