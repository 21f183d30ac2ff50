package model

// JobType is the kind of freelance work a policy covers.
type JobType string

const (
	JobSoftwareDevelopment JobType = "software_development"
	JobDesign              JobType = "design"
	JobContentWriting      JobType = "content_writing"
	JobDigitalMarketing    JobType = "digital_marketing"
	JobConsulting          JobType = "consulting"
	JobOther               JobType = "other"
)

// JobTypes lists job types in weight-table order.
var JobTypes = []JobType{
	JobSoftwareDevelopment,
	JobDesign,
	JobContentWriting,
	JobDigitalMarketing,
	JobConsulting,
	JobOther,
}

// Index returns the position of j in weight tables, or -1 if unknown.
func (j JobType) Index() int {
	for i, v := range JobTypes {
		if v == j {
			return i
		}
	}
	return -1
}

// Valid reports whether j is a known job type.
func (j JobType) Valid() bool { return j.Index() >= 0 }

// Industry is the client's market sector.
type Industry string

const (
	IndustryTechnology    Industry = "technology"
	IndustryFinance       Industry = "finance"
	IndustryHealthcare    Industry = "healthcare"
	IndustryEcommerce     Industry = "ecommerce"
	IndustryEntertainment Industry = "entertainment"
	IndustryEducation     Industry = "education"
	IndustryOther         Industry = "other"
)

// Industries lists industries in weight-table order.
var Industries = []Industry{
	IndustryTechnology,
	IndustryFinance,
	IndustryHealthcare,
	IndustryEcommerce,
	IndustryEntertainment,
	IndustryEducation,
	IndustryOther,
}

// Index returns the position of i in weight tables, or -1 if unknown.
func (i Industry) Index() int {
	for n, v := range Industries {
		if v == i {
			return n
		}
	}
	return -1
}

// Valid reports whether i is a known industry.
func (i Industry) Valid() bool { return i.Index() >= 0 }

// ClaimCategory classifies the loss behind a claim.
type ClaimCategory string

const (
	CategoryContractBreach        ClaimCategory = "contract_breach"
	CategoryNonPayment            ClaimCategory = "non_payment"
	CategoryProjectCancellation   ClaimCategory = "project_cancellation"
	CategoryScopeCreep            ClaimCategory = "scope_creep"
	CategoryIPDispute             ClaimCategory = "ip_dispute"
	CategoryClientDissatisfaction ClaimCategory = "client_dissatisfaction"
	CategoryForceMajeure          ClaimCategory = "force_majeure"
	CategoryOther                 ClaimCategory = "other"
)

// Valid reports whether c is a known category.
func (c ClaimCategory) Valid() bool {
	switch c {
	case CategoryContractBreach, CategoryNonPayment, CategoryProjectCancellation,
		CategoryScopeCreep, CategoryIPDispute, CategoryClientDissatisfaction,
		CategoryForceMajeure, CategoryOther:
		return true
	}
	return false
}

// ProductType is the coverage category a product targets.
type ProductType string

const (
	ProductGeneral             ProductType = "general"
	ProductSoftwareDevelopment ProductType = "software_development"
	ProductDesign              ProductType = "design"
	ProductContent             ProductType = "content"
	ProductMarketing           ProductType = "marketing"
	ProductConsulting          ProductType = "consulting"
	ProductCustom              ProductType = "custom"
)

// Valid reports whether p is a known product type.
func (p ProductType) Valid() bool {
	switch p {
	case ProductGeneral, ProductSoftwareDevelopment, ProductDesign, ProductContent,
		ProductMarketing, ProductConsulting, ProductCustom:
		return true
	}
	return false
}

// ProcessorType identifies who decided a claim.
type ProcessorType string

const (
	ProcessorAutomated   ProcessorType = "automated"
	ProcessorCommunity   ProcessorType = "community"
	ProcessorArbitration ProcessorType = "arbitration"
	ProcessorExpert      ProcessorType = "expert"
	ProcessorAdmin       ProcessorType = "admin"
)
