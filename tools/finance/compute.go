package finance

import "math"

// Newton iteration bounds shared by the IRR solver.
const (
	irrTolerance     = 1e-10
	irrMaxIterations = 1000
	irrMinRate       = -0.99
	irrMaxRate       = 10.0
)

// npv discounts the cash flow series at the given rate. The first
// element is period 0 and is not discounted.
func npv(cashflows []float64, rate float64) float64 {
	var v float64
	for t, cf := range cashflows {
		v += cf / math.Pow(1+rate, float64(t))
	}
	return v
}

func npvDerivative(cashflows []float64, rate float64) float64 {
	var d float64
	for t := 1; t < len(cashflows); t++ {
		df := 1.0 / math.Pow(1+rate, float64(t))
		d += -float64(t) * cashflows[t] * df / (1 + rate)
	}
	return d
}

// irr solves NPV(rate) = 0 by Newton iteration from a 10% guess. When
// the iteration does not converge the last clamped estimate is returned.
func irr(cashflows []float64) float64 {
	guess := 0.1
	for i := 0; i < irrMaxIterations; i++ {
		v := npv(cashflows, guess)
		d := npvDerivative(cashflows, guess)
		if math.Abs(d) < irrTolerance {
			break
		}
		next := guess - v/d
		if math.Abs(next-guess) < irrTolerance {
			return next
		}
		guess = next
		if guess < irrMinRate {
			guess = irrMinRate
		}
		if guess > irrMaxRate {
			guess = irrMaxRate
		}
	}
	return guess
}

// monthlyPayment is the equal instalment M = P·r(1+r)^n / ((1+r)^n - 1).
func monthlyPayment(principal, monthlyRate float64, periods int) float64 {
	f := math.Pow(1+monthlyRate, float64(periods))
	return principal * monthlyRate * f / (f - 1)
}

// bondPrice discounts coupons and face value at the periodic yield.
func bondPrice(faceValue, couponRate, yield, years float64, freq int) float64 {
	coupon := faceValue * couponRate / float64(freq)
	periodYield := yield / float64(freq)
	periods := int(years * float64(freq))

	var price float64
	for i := 1; i <= periods; i++ {
		price += coupon / math.Pow(1+periodYield, float64(i))
	}
	price += faceValue / math.Pow(1+periodYield, float64(periods))
	return price
}

// macaulayDuration is the present-value weighted mean time to each cash
// flow, in years.
func macaulayDuration(price, faceValue, couponRate, ytm, years float64, freq int) float64 {
	periodYield := ytm / float64(freq)
	coupon := faceValue * couponRate / float64(freq)
	periods := int(years * float64(freq))

	var weighted float64
	for i := 1; i <= periods; i++ {
		cf := coupon
		if i == periods {
			cf += faceValue
		}
		pv := cf / math.Pow(1+periodYield, float64(i))
		weighted += float64(i) / float64(freq) * pv
	}
	return weighted / price
}

func modifiedDuration(macaulay, ytm float64, freq int) float64 {
	return macaulay / (1 + ytm/float64(freq))
}

func convexity(price, faceValue, couponRate, ytm, years float64, freq int) float64 {
	periodYield := ytm / float64(freq)
	coupon := faceValue * couponRate / float64(freq)
	periods := int(years * float64(freq))

	var c float64
	for i := 1; i <= periods; i++ {
		cf := coupon
		if i == periods {
			cf += faceValue
		}
		pv := cf / math.Pow(1+periodYield, float64(i))
		c += float64(i) * float64(i+1) * pv
	}
	return c / (price * math.Pow(1+periodYield, 2) * float64(freq) * float64(freq))
}

func d1(s, k, t, r, sigma float64) float64 {
	return (math.Log(s/k) + (r+0.5*sigma*sigma)*t) / (sigma * math.Sqrt(t))
}

// blackScholes prices a European option.
func blackScholes(s, k, t, r, sigma float64, call bool) float64 {
	dOne := d1(s, k, t, r, sigma)
	dTwo := dOne - sigma*math.Sqrt(t)
	if call {
		return s*normCDF(dOne) - k*math.Exp(-r*t)*normCDF(dTwo)
	}
	return k*math.Exp(-r*t)*normCDF(-dTwo) - s*normCDF(-dOne)
}

func optionDelta(s, k, t, r, sigma float64, call bool) float64 {
	if call {
		return normCDF(d1(s, k, t, r, sigma))
	}
	return normCDF(d1(s, k, t, r, sigma)) - 1
}

func optionGamma(s, k, t, r, sigma float64) float64 {
	return normPDF(d1(s, k, t, r, sigma)) / (s * sigma * math.Sqrt(t))
}

func optionVega(s, k, t, r, sigma float64) float64 {
	return s * normPDF(d1(s, k, t, r, sigma)) * math.Sqrt(t)
}

// optionTheta is per calendar day.
func optionTheta(s, k, t, r, sigma float64, call bool) float64 {
	dOne := d1(s, k, t, r, sigma)
	dTwo := dOne - sigma*math.Sqrt(t)
	decay := -s * normPDF(dOne) * sigma / (2 * math.Sqrt(t))
	if call {
		return (decay - r*k*math.Exp(-r*t)*normCDF(dTwo)) / 365
	}
	return (decay + r*k*math.Exp(-r*t)*normCDF(-dTwo)) / 365
}

// optionRho is per percentage point of the risk-free rate.
func optionRho(s, k, t, r, sigma float64, call bool) float64 {
	dTwo := d1(s, k, t, r, sigma) - sigma*math.Sqrt(t)
	if call {
		return k * t * math.Exp(-r*t) * normCDF(dTwo) / 100
	}
	return -k * t * math.Exp(-r*t) * normCDF(-dTwo) / 100
}

// normCDF is the standard normal CDF via the Abramowitz-Stegun erf
// approximation (7.1.26), accurate to about 1.5e-7.
func normCDF(x float64) float64 {
	sign := 1.0
	if x < 0 {
		sign = -1.0
	}
	x = math.Abs(x) / math.Sqrt2

	const (
		a1 = 0.254829592
		a2 = -0.284496736
		a3 = 1.421413741
		a4 = -1.453152027
		a5 = 1.061405429
		p  = 0.3275911
	)
	t := 1.0 / (1.0 + p*x)
	y := 1.0 - (((((a5*t+a4)*t)+a3)*t+a2)*t+a1)*t*math.Exp(-x*x)

	return 0.5 * (1.0 + sign*y)
}

func normPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
}
