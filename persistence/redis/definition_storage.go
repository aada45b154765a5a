package redis

import (
	"context"
	"errors"

	rd "github.com/go-redis/redis/v9"
	"github.com/parley-labs/parley/logger"
	"github.com/parley-labs/parley/model"
	"github.com/parley-labs/parley/persistence"
	"github.com/parley-labs/parley/util"
	"go.uber.org/zap"
)

const FLOW_DEF string = "FLOWDEF"

var _ persistence.DefinitionStorage = new(DefinitionStorage)

type DefinitionStorage struct {
	*baseDao
	encDec util.EncoderDecoder[model.FlowDefinition]
}

func NewRedisDefinitionStorage(conf Config) *DefinitionStorage {
	return &DefinitionStorage{
		baseDao: newBaseDao(conf),
		encDec:  util.NewJsonEncoderDecoder[model.FlowDefinition](),
	}
}

func (rds *DefinitionStorage) SaveDefinition(def model.FlowDefinition) error {
	data, err := rds.encDec.Encode(def)
	if err != nil {
		return err
	}
	key := rds.getNamespaceKey(FLOW_DEF)
	ctx := context.Background()
	if err := rds.redisClient.HSet(ctx, key, []string{def.Id, string(data)}).Err(); err != nil {
		logger.Error("error saving flow definition", zap.String("flow", def.Id), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rds *DefinitionStorage) GetDefinition(id string) (*model.FlowDefinition, error) {
	key := rds.getNamespaceKey(FLOW_DEF)
	ctx := context.Background()
	val, err := rds.redisClient.HGet(ctx, key, id).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, persistence.NotFoundError{Kind: "flow definition", Id: id}
		}
		logger.Error("error getting flow definition", zap.String("flow", id), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return rds.encDec.Decode([]byte(val))
}

func (rds *DefinitionStorage) DeleteDefinition(id string) error {
	key := rds.getNamespaceKey(FLOW_DEF)
	ctx := context.Background()
	if err := rds.redisClient.HDel(ctx, key, id).Err(); err != nil {
		logger.Error("error deleting flow definition", zap.String("flow", id), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rds *DefinitionStorage) ListDefinitions() ([]model.FlowDefinition, error) {
	key := rds.getNamespaceKey(FLOW_DEF)
	ctx := context.Background()
	entries, err := rds.redisClient.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	defs := make([]model.FlowDefinition, 0, len(entries))
	for _, raw := range entries {
		def, err := rds.encDec.Decode([]byte(raw))
		if err != nil {
			return nil, err
		}
		defs = append(defs, *def)
	}
	return defs, nil
}
