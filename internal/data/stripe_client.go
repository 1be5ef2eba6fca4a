package data

import (
	"context"
	"fmt"
	"strings"
	"time"

	"xinyuan_tech/entitlement-service/internal/biz"
	"xinyuan_tech/entitlement-service/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	stripe "github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

// stripeGateway 卡支付渠道客户端实现（防腐层）
type stripeGateway struct {
	sc  *client.API
	log *log.Helper
}

// NewStripeGateway 创建卡支付渠道客户端
// 密钥缺失属于启动级错误，直接失败而不是降级：没有它整个对账都无法工作。
func NewStripeGateway(c *conf.Bootstrap, logger log.Logger) (biz.StripeGateway, error) {
	if c == nil || c.Stripe == nil || c.Stripe.ApiKey == "" {
		return nil, fmt.Errorf("stripe api key is required")
	}
	sc := &client.API{}
	sc.Init(c.Stripe.ApiKey, nil)
	return &stripeGateway{
		sc:  sc,
		log: log.NewHelper(logger),
	}, nil
}

// FindBestSubscription 按归一化邮箱查找客户及其最优订阅
func (g *stripeGateway) FindBestSubscription(ctx context.Context, email string) (string, *biz.StripeSubscription, error) {
	cus, err := g.findCustomer(ctx, email)
	if err != nil {
		return "", nil, err
	}
	if cus == nil {
		return "", nil, nil
	}

	sub, err := g.findBestSubscription(ctx, cus.ID)
	if err != nil {
		return "", nil, err
	}
	if sub == nil {
		// 客户存在但没有任何订阅，客户ID仍需返回参与归并
		return cus.ID, nil, nil
	}

	return cus.ID, g.buildSubscription(ctx, cus.ID, sub), nil
}

// findCustomer 查找客户：优先 search 接口，失败时回落到精确匹配的 list 接口
func (g *stripeGateway) findCustomer(ctx context.Context, email string) (*stripe.Customer, error) {
	email = biz.NormalizeEmail(email)

	searchParams := &stripe.CustomerSearchParams{
		SearchParams: stripe.SearchParams{
			Query:   fmt.Sprintf("email:%q", email),
			Context: ctx,
		},
	}
	searchIter := g.sc.Customers.Search(searchParams)
	if searchIter.Next() {
		return searchIter.Customer(), nil
	}
	if err := searchIter.Err(); err != nil {
		g.log.WithContext(ctx).Warnf("Customer search failed for %s, falling back to list: %v", email, err)
		return g.listCustomerByEmail(ctx, email)
	}
	return nil, nil
}

func (g *stripeGateway) listCustomerByEmail(ctx context.Context, email string) (*stripe.Customer, error) {
	listParams := &stripe.CustomerListParams{
		Email: stripe.String(email),
	}
	listParams.Context = ctx
	iter := g.sc.Customers.List(listParams)
	for iter.Next() {
		c := iter.Customer()
		if strings.EqualFold(c.Email, email) {
			return c, nil
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return nil, nil
}

// findBestSubscription 列出客户全部状态的订阅，active/trialing 优先，否则取第一条
func (g *stripeGateway) findBestSubscription(ctx context.Context, customerID string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("all"),
	}
	params.Context = ctx

	var best *stripe.Subscription
	iter := g.sc.Subscriptions.List(params)
	for iter.Next() {
		sub := iter.Subscription()
		if best == nil {
			best = sub
		}
		if sub.Status == stripe.SubscriptionStatusActive || sub.Status == stripe.SubscriptionStatusTrialing {
			best = sub
			break
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return best, nil
}

// buildSubscription 提取订阅的归类信号
// 价格/产品的补充查询失败不阻断：用已有信号继续归类。
func (g *stripeGateway) buildSubscription(ctx context.Context, customerID string, sub *stripe.Subscription) *biz.StripeSubscription {
	out := &biz.StripeSubscription{
		SubscriptionID:    sub.ID,
		CustomerID:        customerID,
		Status:            string(sub.Status),
		MetadataTier:      sub.Metadata["tier"],
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.CurrentPeriodStart > 0 {
		out.PeriodStart = time.Unix(sub.CurrentPeriodStart, 0).UTC()
	}
	if sub.CurrentPeriodEnd > 0 {
		out.PeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}

	if sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0].Price == nil {
		return out
	}
	item := sub.Items.Data[0]
	out.PriceID = item.Price.ID
	out.LookupKey = item.Price.LookupKey
	out.Nickname = item.Price.Nickname
	if out.MetadataTier == "" {
		out.MetadataTier = item.Price.Metadata["tier"]
	}

	// 展开价格上的产品信息，拿到产品名和产品级 metadata 标签
	priceParams := &stripe.PriceParams{}
	priceParams.Context = ctx
	priceParams.AddExpand("product")
	price, err := g.sc.Prices.Get(item.Price.ID, priceParams)
	if err != nil {
		g.log.WithContext(ctx).Warnf("Failed to retrieve price %s: %v", item.Price.ID, err)
		return out
	}
	if price.LookupKey != "" {
		out.LookupKey = price.LookupKey
	}
	if price.Nickname != "" {
		out.Nickname = price.Nickname
	}
	if price.Product != nil {
		out.ProductName = price.Product.Name
		if out.MetadataTier == "" {
			out.MetadataTier = price.Product.Metadata["tier"]
		}
		// expand 未生效时单独取产品
		if out.ProductName == "" && price.Product.ID != "" {
			productParams := &stripe.ProductParams{}
			productParams.Context = ctx
			if product, err := g.sc.Products.Get(price.Product.ID, productParams); err == nil {
				out.ProductName = product.Name
				if out.MetadataTier == "" {
					out.MetadataTier = product.Metadata["tier"]
				}
			} else {
				g.log.WithContext(ctx).Warnf("Failed to retrieve product %s: %v", price.Product.ID, err)
			}
		}
	}
	return out
}
