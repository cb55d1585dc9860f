package grouping

import "sort"

// Built-in business object layouts. Field names are the backend's; column
// mapping happens upstream.
var builtin = map[string]Layout{
	"goods-receipt": {
		Name:         "goods-receipt",
		KeyFields:    []string{"PurchaseOrder", "PostingDate"},
		HeaderFields: []string{"PostingDate", "DocumentDate", "GoodsMovementCode", "MaterialDocumentHeaderText", "ReferenceDocument"},
		ItemFields: []string{
			"Material", "Plant", "StorageLocation", "GoodsMovementType", "PurchaseOrder",
			"PurchaseOrderItem", "GoodsMovementRefDocType", "QuantityInEntryUnit", "EntryUnit", "Batch",
		},
		Decimals:        map[string]int{"QuantityInEntryUnit": 3},
		DateFields:      []string{"PostingDate", "DocumentDate"},
		DateFormat:      DateODataV2,
		ItemsName:       "to_MaterialDocumentItem",
		Mode:            "odata",
		Service:         "/sap/opu/odata/sap/API_MATERIAL_DOCUMENT_SRV",
		Entity:          "A_MaterialDocumentHeader",
		ReferenceFields: []string{"MaterialDocument", "MaterialDocumentYear"},
	},
	"purchase-order": {
		Name:         "purchase-order",
		KeyFields:    []string{"DocumentNumber"},
		HeaderFields: []string{"CompanyCode", "PurchaseOrderType", "Supplier", "PurchasingOrganization", "PurchasingGroup", "DocumentCurrency", "PurchaseOrderDate"},
		ItemFields: []string{
			"Material", "PurchaseOrderItemText", "Plant", "OrderQuantity", "PurchaseOrderQuantityUnit",
			"NetPriceAmount", "MaterialGroup", "AccountAssignmentCategory",
		},
		LineIDField: "PurchaseOrderItem",
		Decimals:    map[string]int{"OrderQuantity": 3, "NetPriceAmount": 2},
		DateFields:  []string{"PurchaseOrderDate"},
		DateFormat:  DateODataV2,
		ItemSections: []SectionSpec{
			{Name: "to_AccountAssignment", Fields: []string{"WBSElement", "CostCenter", "GLAccount", "Quantity"}},
		},
		ItemsName:       "to_PurchaseOrderItem",
		Mode:            "odata",
		Service:         "/sap/opu/odata/sap/API_PURCHASEORDER_PROCESS_SRV",
		Entity:          "A_PurchaseOrder",
		ReferenceFields: []string{"PurchaseOrder"},
	},
	"wbs-element": {
		Name:            "wbs-element",
		KeyFields:       []string{"ProjectElement"},
		HeaderFields:    []string{"ProjectElement", "ProjectElementDescription", "ProjectUUID", "ResponsiblePerson", "CompanyCode", "ProfitCenter", "PlannedStartDate", "PlannedEndDate"},
		DateFields:      []string{"PlannedStartDate", "PlannedEndDate"},
		DateFormat:      "2006-01-02T15:04:05",
		Mode:            "odata",
		Service:         "/sap/opu/odata/sap/API_ENTERPRISE_PROJECT_SRV;v=0002",
		Entity:          "A_EnterpriseProjectElement",
		ReferenceFields: []string{"ProjectElement"},
	},
	"service-entry-sheet": {
		Name:         "service-entry-sheet",
		KeyFields:    []string{"PurchaseOrder", "ServiceEntrySheetName"},
		HeaderFields: []string{"ServiceEntrySheetName", "PurchaseOrder", "Supplier", "PostingDate", "Currency"},
		ItemFields: []string{
			"PurchaseOrderItem", "ServicePerformanceDate", "ConfirmedQuantity", "QuantityUnit", "NetAmount", "ServiceEntrySheetItemDescription",
		},
		LineIDField: "ServiceEntrySheetItem",
		Decimals:    map[string]int{"ConfirmedQuantity": 3, "NetAmount": 2},
		DateFields:  []string{"PostingDate", "ServicePerformanceDate"},
		DateFormat:  "2006-01-02",
		ItemSections: []SectionSpec{
			{Name: "AccountAssignment", Fields: []string{"CostCenter", "WBSElement", "GLAccount"}},
		},
		ItemsName:       "Item",
		Mode:            "soap",
		Service:         "/sap/bc/srt/scs_ext/sap/serviceentrysheetbulkrequest",
		Entity:          "ServiceEntrySheet",
		Namespace:       "http://sap.com/xi/SAPSCORE/SRV",
		ReferenceFields: []string{"ServiceEntrySheet"},
	},
	"fixed-asset": {
		Name:         "fixed-asset",
		KeyFields:    []string{"FixedAssetExternalID"},
		HeaderFields: []string{"CompanyCode", "AssetClass", "FixedAssetDescription", "AssetAdditionalDescription", "InventoryNumber", "AssetCapitalizationDate"},
		Decimals:     map[string]int{"PlannedUsefulLifeInYears": 0, "PlannedUsefulLifeInPeriods": 0, "AcquisitionValue": 2},
		DateFields:   []string{"AssetCapitalizationDate", "ValidityStartDate"},
		DateFormat:   "2006-01-02",
		HeaderSections: []SectionSpec{
			{Name: "TimeBasedValuation", Fields: []string{"ValidityStartDate", "CostCenter", "ProfitCenter", "WBSElement"}},
			{Name: "Valuation", Fields: []string{"DepreciationArea", "DepreciationKey", "PlannedUsefulLifeInYears", "PlannedUsefulLifeInPeriods"}},
			{Name: "Ledger", Fields: []string{"Ledger", "AcquisitionValue", "Currency"}},
		},
		Mode:            "soap",
		Service:         "/sap/bc/srt/scs_ext/sap/fixedassetcreatemain",
		Entity:          "FixedAsset",
		Namespace:       "http://sap.com/xi/SAPSCORE/SFIN",
		ReferenceFields: []string{"MasterFixedAsset", "FixedAsset"},
	},
}

// Lookup returns a built-in layout by name.
func Lookup(name string) (Layout, bool) {
	l, ok := builtin[name]
	return l, ok
}

// Names lists the built-in layouts.
func Names() []string {
	out := make([]string, 0, len(builtin))
	for n := range builtin {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
