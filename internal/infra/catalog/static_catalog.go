// Package catalog serves the purchasable products from configuration.
package catalog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"credit-settlement/internal/config"
	"credit-settlement/internal/domain"
	"credit-settlement/internal/domain/model"
	"credit-settlement/internal/domain/ports/adapter"
)

var _ adapter.ProductCatalog = (*StaticCatalog)(nil)

// DefaultProducts is used when the config file lists none.
var DefaultProducts = []config.ProductConfig{
	{ID: "credits_500", Name: "内测专享包", Description: "内测用户专享，超值体验高级功能", Price: "0.99", Credits: 500, MembershipType: "advanced", MembershipDays: 30},
	{ID: "credits_150", Name: "新手体验包", Description: "体验全部高级模型，低门槛开启创作", Price: "2.90", Credits: 150},
	{ID: "credits_1200", Name: "创作入门包", Description: "超高性价比，适合轻度创作者", Price: "18.90", Credits: 1200, MembershipType: "advanced", MembershipDays: 30},
	{ID: "credits_2400", Name: "轻量月包", Description: "月度主力套餐，积分单价更低", Price: "29.90", Credits: 2400, MembershipType: "advanced", MembershipDays: 30},
	{ID: "credits_5000", Name: "专业月包", Description: "重度创作首选，海量额度随心用", Price: "68.00", Credits: 5000, MembershipType: "professional", MembershipDays: 30},
	{ID: "credits_16000", Name: "专业季度包", Description: "超长有效期，全年最低单价", Price: "188.00", Credits: 16000, MembershipType: "professional", MembershipDays: 90},
}

type StaticCatalog struct {
	byID  map[string]*model.Product
	order []string
}

// New builds a catalog from cfg, falling back to DefaultProducts.
func New(cfg config.CatalogConfig) (*StaticCatalog, error) {
	src := cfg.Products
	if len(src) == 0 {
		src = DefaultProducts
	}
	c := &StaticCatalog{byID: make(map[string]*model.Product, len(src))}
	for _, pc := range src {
		p, err := toProduct(pc)
		if err != nil {
			return nil, err
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, domain.Validationf("duplicate product id %q", p.ID)
		}
		c.byID[p.ID] = p
		c.order = append(c.order, p.ID)
	}
	return c, nil
}

func toProduct(pc config.ProductConfig) (*model.Product, error) {
	id := strings.TrimSpace(pc.ID)
	if id == "" {
		return nil, domain.Validationf("product id is required")
	}
	price, err := decimal.NewFromString(pc.Price)
	if err != nil || !price.IsPositive() {
		return nil, domain.Validationf("product %s: invalid price %q", id, pc.Price)
	}
	if pc.Credits < 0 {
		return nil, domain.Validationf("product %s: negative credits", id)
	}
	p := &model.Product{
		ID:          id,
		Name:        pc.Name,
		Description: pc.Description,
		Price:       price.Round(2),
		Credits:     pc.Credits,
	}
	if pc.MembershipType != "" {
		tier, ok := model.ParseTier(pc.MembershipType)
		if !ok || tier == model.TierNone {
			return nil, domain.Validationf("product %s: unknown membership type %q", id, pc.MembershipType)
		}
		if pc.MembershipDays <= 0 {
			return nil, domain.Validationf("product %s: membership days must be positive", id)
		}
		p.Membership = &model.MembershipGrant{Tier: tier, Days: pc.MembershipDays}
	}
	return p, nil
}

func (c *StaticCatalog) Get(id string) (*model.Product, error) {
	p, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: product %s", domain.ErrNotFound, id)
	}
	cp := *p
	return &cp, nil
}

// FindByName returns the product whose display name equals name. A name shared by
// several products matches none of them.
func (c *StaticCatalog) FindByName(name string) (*model.Product, error) {
	name = strings.TrimSpace(name)
	var found *model.Product
	for _, id := range c.order {
		p := c.byID[id]
		if p.Name == "" || p.Name != name {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("%w: product name %q is ambiguous", domain.ErrNotFound, name)
		}
		found = p
	}
	if found == nil {
		return nil, fmt.Errorf("%w: product named %q", domain.ErrNotFound, name)
	}
	cp := *found
	return &cp, nil
}

func (c *StaticCatalog) List() []*model.Product {
	out := make([]*model.Product, 0, len(c.order))
	for _, id := range c.order {
		cp := *c.byID[id]
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Price.LessThan(out[j].Price) })
	return out
}
