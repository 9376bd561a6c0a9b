package tools

// Tool names issued by the built-in handlers.
const (
	LookupOrder       = "lookup_order"
	QueryLogistics    = "query_logistics"
	QueryUserOrders   = "query_user_orders"
	QueryUserInfo     = "query_user_info"
	QueryProductStock = "query_product_stock"
	QueryProductPrice = "query_product_price"
	CreateAfterSales  = "create_aftersales"
	QueryAfterSales   = "query_aftersales"
	TransferToHuman   = "transfer_to_human"
)

func builtin() []Tool {
	return []Tool{
		{
			Name:        LookupOrder,
			Description: "Look up an order: status, product, amount and payment details",
			Params: []Param{
				{Name: "id", Type: TypeString, Description: "Order number, e.g. ORD20240001", Required: true},
				{Name: "user_id", Type: TypeString, Description: "User id, used to verify ownership"},
			},
			Returns: []Field{
				{Name: "order_id", Description: "Order number"},
				{Name: "status", Description: "Order status (pending_payment, awaiting_shipment, shipped, completed, cancelled)"},
				{Name: "product_name", Description: "Product name"},
				{Name: "price", Description: "Order amount"},
				{Name: "create_time", Description: "Time the order was placed"},
				{Name: "pay_time", Description: "Payment time, if paid"},
			},
		},
		{
			Name:        QueryLogistics,
			Description: "Query shipping status and the delivery track of an order",
			Params: []Param{
				{Name: "order_id", Type: TypeString, Description: "Order number", Required: true},
				{Name: "tracking_no", Type: TypeString, Description: "Waybill number, queried directly when given"},
			},
			Returns: []Field{
				{Name: "logistics_company", Description: "Carrier"},
				{Name: "tracking_no", Description: "Waybill number"},
				{Name: "status", Description: "Shipping status"},
				{Name: "current_location", Description: "Current location"},
				{Name: "expected_delivery", Description: "Expected delivery time"},
				{Name: "history", Description: "Tracking events"},
			},
		},
		{
			Name:        QueryUserOrders,
			Description: "List a user's orders",
			Params: []Param{
				{Name: "user_id", Type: TypeString, Description: "User id", Required: true},
				{Name: "status", Type: TypeString, Description: "Status filter", Enum: []string{"all", "pending", "shipped", "completed", "cancelled"}},
				{Name: "limit", Type: TypeInteger, Description: "Maximum number of orders, default 10"},
			},
			Returns: []Field{
				{Name: "orders", Description: "Orders"},
				{Name: "total", Description: "Total number of orders"},
			},
		},
		{
			Name:        QueryUserInfo,
			Description: "Query a user's profile: membership level, points and coupons",
			Params: []Param{
				{Name: "user_id", Type: TypeString, Description: "User id", Required: true},
			},
			Returns: []Field{
				{Name: "user_id", Description: "User id"},
				{Name: "nickname", Description: "Nickname"},
				{Name: "member_level", Description: "Membership level"},
				{Name: "points", Description: "Current points"},
				{Name: "available_coupons", Description: "Number of usable coupons"},
			},
		},
		{
			Name:        QueryProductStock,
			Description: "Query product stock",
			Params: []Param{
				{Name: "product_id", Type: TypeString, Description: "Product id", Required: true},
				{Name: "sku", Type: TypeString, Description: "SKU such as colour and capacity"},
			},
			Returns: []Field{
				{Name: "product_id", Description: "Product id"},
				{Name: "product_name", Description: "Product name"},
				{Name: "in_stock", Description: "Whether the product is available"},
				{Name: "stock_count", Description: "Units in stock"},
				{Name: "expected_restock", Description: "Expected restock time when sold out"},
			},
		},
		{
			Name:        QueryProductPrice,
			Description: "Query the live price of a product including promotions",
			Params: []Param{
				{Name: "product_id", Type: TypeString, Description: "Product id", Required: true},
				{Name: "user_id", Type: TypeString, Description: "User id, used for member pricing"},
			},
			Returns: []Field{
				{Name: "original_price", Description: "List price"},
				{Name: "current_price", Description: "Current price"},
				{Name: "member_price", Description: "Member price, if any"},
				{Name: "promotions", Description: "Applicable promotions"},
			},
		},
		{
			Name:        CreateAfterSales,
			Description: "Open an after-sales request (refund, exchange or repair)",
			Params: []Param{
				{Name: "order_id", Type: TypeString, Description: "Order number", Required: true},
				{Name: "type", Type: TypeString, Description: "Request type", Required: true, Enum: []string{"refund", "exchange", "repair"}},
				{Name: "reason", Type: TypeString, Description: "Reason given by the customer", Required: true},
			},
			Returns: []Field{
				{Name: "aftersales_id", Description: "After-sales ticket number"},
				{Name: "status", Description: "Request status"},
				{Name: "next_steps", Description: "What the customer should do next"},
			},
		},
		{
			Name:        QueryAfterSales,
			Description: "Query the progress of an after-sales request",
			Params: []Param{
				{Name: "aftersales_id", Type: TypeString, Description: "After-sales ticket number"},
				{Name: "order_id", Type: TypeString, Description: "Order number, alternative to the ticket number"},
			},
			Returns: []Field{
				{Name: "aftersales_id", Description: "After-sales ticket number"},
				{Name: "type", Description: "Request type"},
				{Name: "status", Description: "Current status"},
				{Name: "create_time", Description: "Time the request was opened"},
				{Name: "timeline", Description: "Processing timeline"},
			},
		},
		{
			Name:        TransferToHuman,
			Description: "Hand the conversation over to a human agent",
			Params: []Param{
				{Name: "reason", Type: TypeString, Description: "Why the customer needs a human", Required: true},
				{Name: "priority", Type: TypeString, Description: "Priority", Enum: []string{"normal", "urgent"}},
			},
			Returns: []Field{
				{Name: "queue_position", Description: "Position in the queue"},
				{Name: "estimated_wait", Description: "Estimated wait time"},
				{Name: "ticket_id", Description: "Service ticket number"},
			},
		},
	}
}
