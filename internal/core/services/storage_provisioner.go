package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tidwall/gjson"

	"github.com/camerontarget14/resilio-connect-scripts/internal/core/domain"
	"github.com/camerontarget14/resilio-connect-scripts/internal/core/ports"
)

const storagesPath = "/api/v2/storages"

// StorageProvisioner makes sure a named cloud storage exists exactly once.
//
// Ensure is check-then-create and not atomic against a concurrent creator of
// the same name. Only one orchestrator may provision a given name; the
// binary enforces this with an instance lock.
type StorageProvisioner struct {
	logger *slog.Logger
	api    ports.ManagementAPI
}

func NewStorageProvisioner(logger *slog.Logger, api ports.ManagementAPI) *StorageProvisioner {
	return &StorageProvisioner{logger: logger, api: api}
}

type createStorageRequest struct {
	Type        domain.StorageKind `json:"type"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	AccessKey   string             `json:"access_key"`
	SecretKey   string             `json:"secret_key"`
	Bucket      string             `json:"bucket"`
	Region      string             `json:"region,omitempty"`
}

// Ensure returns the id of the storage called name, creating it with params
// only when no storage of that exact name exists. Lookup errors propagate
// unchanged; creation errors are ErrProvision.
func (p *StorageProvisioner) Ensure(ctx context.Context, name string, params domain.StorageParams) (domain.StorageID, error) {
	existing, err := p.List(ctx)
	if err != nil {
		return "", err
	}
	for _, s := range existing {
		if s.Name == name {
			p.logger.Info("storage already provisioned", "name", name, "storage_id", s.ID)
			return s.ID, nil
		}
	}

	const op = "create storage"
	req := createStorageRequest{
		Type:        params.Kind,
		Name:        name,
		Description: params.Description,
		AccessKey:   params.Credentials.AccessKey,
		SecretKey:   params.Credentials.SecretKey,
		Bucket:      params.Location.Bucket,
		Region:      params.Location.Region,
	}
	body, err := p.api.Post(ctx, storagesPath, req)
	if err != nil {
		return "", domain.NewOpError(op, domain.ErrProvision, err)
	}
	if err := checkEnvelope(op, body); err != nil {
		return "", domain.NewOpError(op, domain.ErrProvision, err)
	}
	id, err := idField(op, body, "id")
	if err != nil {
		return "", domain.NewOpError(op, domain.ErrProvision, err)
	}

	p.logger.Info("storage created", "name", name, "storage_id", id, "kind", params.Kind)
	return domain.StorageID(id), nil
}

// List returns every storage configured on the console.
func (p *StorageProvisioner) List(ctx context.Context) ([]domain.Storage, error) {
	const op = "list storages"

	body, err := p.api.Get(ctx, storagesPath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := checkEnvelope(op, body); err != nil {
		return nil, err
	}
	items, err := listItems(op, body)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Storage, 0, len(items))
	for _, item := range items {
		out = append(out, parseStorage(item))
	}
	return out, nil
}

// Delete removes a storage by id.
func (p *StorageProvisioner) Delete(ctx context.Context, id domain.StorageID) error {
	const op = "delete storage"

	body, err := p.api.Delete(ctx, storagesPath+"/"+string(id))
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, id, err)
	}
	if err := checkEnvelope(op, body); err != nil {
		return err
	}
	p.logger.Info("storage deleted", "storage_id", id)
	return nil
}

func parseStorage(item gjson.Result) domain.Storage {
	return domain.Storage{
		ID:          domain.StorageID(item.Get("id").String()),
		Name:        item.Get("name").String(),
		Kind:        domain.StorageKind(item.Get("type").String()),
		Description: item.Get("description").String(),
		Location: domain.Location{
			Bucket: item.Get("bucket").String(),
			Region: item.Get("region").String(),
		},
	}
}
