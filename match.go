package trader

// crossOrders executes one transaction between a buy and a sell order. The
// crossed quantity is the lesser of the two remaining counts; it is
// subtracted from the larger side and the smaller side drops to 0. Both
// orders are recorded in the changed set, keyed by server id so repeated
// transactions on the same order broadcast once.
//
// A pair where either side is already fulfilled would cross 0 units and
// change nothing, so it is skipped.
func crossOrders(buy, sell *Order, changed map[int64]*Order) {
	if buy.Units == 0 || sell.Units == 0 {
		return
	}

	if buy.Units >= sell.Units {
		buy.Units -= sell.Units
		sell.Units = 0
	} else {
		sell.Units -= buy.Units
		buy.Units = 0
	}

	logger.Debug().
		Int64("buy_order_id", buy.ID).
		Int64("sell_order_id", sell.ID).
		Msg("processing transaction between buyer and seller")

	changed[buy.ID] = buy
	changed[sell.ID] = sell
}

// matchOrder runs the matching pass for a newly inserted order: every
// resting opposing order on the same stock whose price crosses is
// transacted against, in whatever order the registry enumerates. There is
// no price-time priority; the first eligible match encountered wins.
func matchOrder(reg *registry, order *Order, changed map[int64]*Order) {
	if order.Side == Buy {
		reg.scan(func(resting *Order) {
			if resting.Side == Sell && resting.Stock == order.Stock && resting.Price.LessThanOrEqual(order.Price) {
				crossOrders(order, resting, changed)
			}
		})
		return
	}

	reg.scan(func(resting *Order) {
		if resting.Side == Buy && resting.Stock == order.Stock && resting.Price.GreaterThanOrEqual(order.Price) {
			crossOrders(resting, order, changed)
		}
	})
}
