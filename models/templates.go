package models

// IncomeBreakdownAnswer is the reference answer for income and bracket
// questions. It shows the model the fenced table and chart layout and is
// replayed verbatim by the scripted model.
const IncomeBreakdownAnswer = `Let me help you understand your tax situation.

Here's a detailed breakdown:

|||TABLE_DATA|||
{
  "tableData": [
    {"label": "Total Income", "amount": 85000},
    {"label": "Standard Deduction", "amount": 13850},
    {"label": "Taxable Income", "amount": 71150},
    {"label": "Total Tax", "amount": 11287}
  ]
}
|||END_TABLE|||

|||CHART_DATA|||
{
  "chartData": [
    {"name": "10% Bracket", "value": 1100},
    {"name": "12% Bracket", "value": 4600},
    {"name": "22% Bracket", "value": 5587}
  ]
}
|||END_CHART|||

Based on your income of $85,000, here's how your taxes break down:

1. Your total income is $85,000
2. Minus the standard deduction of $13,850
3. Resulting in taxable income of $71,150

The tax is calculated progressively through each bracket:
- 10% on the first $11,000
- 12% on income from $11,001 to $44,725
- 22% on income from $44,726 to $71,150`
