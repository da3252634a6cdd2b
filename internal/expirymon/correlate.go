package expirymon

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/y0ug/expirymon/internal/expirymon/apis"
	"github.com/y0ug/expirymon/internal/models"
)

// AssetContractMap maps an asset id to the contract it was last seen under.
type AssetContractMap map[string]models.ContractLink

// Correlator links assets to contracts through each contract's associated-assets list.
type Correlator struct {
	client apis.APIClient
	logger *logrus.Logger
}

func NewCorrelator(client apis.APIClient, logger *logrus.Logger) *Correlator {
	return &Correlator{client: client, logger: logger}
}

// Link fetches the assets associated to contract and registers them in m.
// An asset already registered under another contract is overwritten.
func (c *Correlator) Link(ctx context.Context, m AssetContractMap, contract models.ContractRecord) error {
	if contract.ID == "" {
		return nil
	}
	associated, err := c.client.FetchAll(ctx, apis.AssociatedAssetsPath(contract.ID), nil)
	if err != nil {
		return fmt.Errorf("associated assets of contract %s: %w", contract.ID, err)
	}

	link := models.ContractLink{ContractName: contract.Name, ContractEndDate: contract.EndDate}
	for _, a := range associated {
		id := a.String("id")
		if id == "" {
			continue
		}
		if prev, ok := m[id]; ok && prev.ContractName != link.ContractName {
			c.logger.WithFields(logrus.Fields{
				"asset_id":          id,
				"previous_contract": prev.ContractName,
				"contract":          link.ContractName,
			}).Debug("Asset linked to several contracts, keeping the last one")
		}
		m[id] = link
	}
	return nil
}
