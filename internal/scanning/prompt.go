package scanning

// billScanPrompt is the shared instruction used by all model providers. The
// defaulting rules stated here bias the model's output; the normalizer
// re-enforces them regardless of what comes back.
const billScanPrompt = `Analyze this bill/receipt image and extract all the items with their details.

Return the data in the following JSON format:
{
    "items": [
        {
            "item": "item name",
            "quantity": "quantity with unit (e.g., 1 kg, 2 pieces, 500ml)",
            "amount": 150.00,
            "category": "category (e.g., Groceries, Snacks, Beverages, etc.)"
        }
    ],
    "total_amount": 450.00,
    "date": "YYYY-MM-DD",
    "store_name": "store name if visible"
}

Rules:
1. Extract each line item separately
2. For quantity, include the unit (kg, grams, pieces, liters, etc.)
3. For amount, use only the numeric value (no currency symbols)
4. For category, choose from: Groceries, Snacks, Beverages, Personal Care, Household, Medicine, or Other
5. If date is not clear, use today's date
6. If quantity is not specified, use "1 piece"
7. Return only valid JSON, no additional text`
