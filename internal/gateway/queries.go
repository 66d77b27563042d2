package gateway

const productFields = `
  id
  databaseId
  name
  slug
  shortDescription
  description
  image { sourceUrl }
  ... on SimpleProduct { price regularPrice salePrice stockStatus }
  ... on VariableProduct { price regularPrice salePrice stockStatus }
  productCategories { nodes { id name slug } }
`

const listProductsQuery = `
query GetProducts($first: Int) {
  products(first: $first) {
    nodes {` + productFields + `}
  }
}`

const getProductQuery = `
query GetProduct($id: ID!) {
  product(id: $id, idType: DATABASE_ID) {` + productFields + `}
}`

const listCategoriesQuery = `
query GetCategories {
  productCategories(first: 100) {
    nodes { id name slug description image { sourceUrl } }
  }
}`

const cartLineFields = `
  key
  product {
    node {
      id
      databaseId
      name
      slug
      image { sourceUrl }
      ... on SimpleProduct { price }
      ... on VariableProduct { price }
    }
  }
  quantity
  variation { attributes { name value } }
`

const getCartQuery = `
query GetCart {
  cart {
    contents { nodes {` + cartLineFields + `} }
    subtotal
    total
    totalTax
    shippingTotal
  }
}`

const addToCartMutation = `
mutation AddToCart($input: AddToCartInput!) {
  addToCart(input: $input) {
    cartItem {` + cartLineFields + `}
  }
}`

const updateItemQuantitiesMutation = `
mutation UpdateItemQuantities($input: UpdateItemQuantitiesInput!) {
  updateItemQuantities(input: $input) {
    items { key quantity }
  }
}`

const removeItemsMutation = `
mutation RemoveItemsFromCart($input: RemoveItemsFromCartInput!) {
  removeItemsFromCart(input: $input) {
    cartItems { key }
  }
}`

const checkoutMutation = `
mutation Checkout($input: CheckoutInput!) {
  checkout(input: $input) {
    order { databaseId orderNumber status total }
    result
    redirect
  }
}`
